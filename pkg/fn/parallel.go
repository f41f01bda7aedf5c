package fn

import "sync"

// ParMapResult runs f over items on a fixed pool of workers. Results keep
// the input order. workers <= 0 means one worker per item.
func ParMapResult[T, U any](items []T, workers int, f func(T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}
	if workers <= 1 {
		for i, v := range items {
			out[i] = f(v)
		}
		return out
	}

	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range idx {
				out[i] = f(items[i])
			}
		}()
	}
	for i := range items {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return out
}
