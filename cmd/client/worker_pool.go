package main

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"marketplace/internal/tools/logger"
)

// placeOrdersAsync fans jobs out to a fixed number of workers. Jobs not yet
// handed out when ctx ends are counted as failed.
func placeOrdersAsync(
	ctx context.Context,
	client *apiClient,
	jobs []placeJob,
	workers int,
) error {
	jobChan := make(chan placeJob)
	failedChan := make(chan int64, len(jobs))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobChan {
				if err := client.placeOrder(ctx, job); err != nil {
					logger.Logger.Warn("place order failed", "worker", workerID, "order_id", job.orderID, "error", err)
					failedChan <- job.orderID
					continue
				}
				logger.Logger.Info("order placed", "worker", workerID, "order_id", job.orderID)
			}
		}(w)
	}

feed:
	for i, job := range jobs {
		select {
		case jobChan <- job:
		case <-ctx.Done():
			for _, rest := range jobs[i:] {
				failedChan <- rest.orderID
			}
			break feed
		}
	}
	close(jobChan)

	wg.Wait()
	close(failedChan)

	var failed []int64
	for id := range failedChan {
		failed = append(failed, id)
	}
	if len(failed) == 0 {
		return nil
	}

	slices.Sort(failed)
	return fmt.Errorf("ошибки в %d из %d заказов: %v", len(failed), len(jobs), failed)
}
