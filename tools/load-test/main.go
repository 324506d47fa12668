package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"attendance.edge/internal/core/model"
)

func main() {
	// Configuration
	url := "http://localhost:8080/api/v1/checkins"
	contentType := "application/json"

	numEmployees := 500
	requestsPerEmployee := 2 // one IN, one OUT
	totalRequests := numEmployees * requestsPerEmployee
	concurrency := 50 // Number of concurrent requests to avoid local port exhaustion

	fmt.Printf("Starting load test: %d employees (%d requests each) to %s with concurrency %d\n", numEmployees, requestsPerEmployee, url, concurrency)

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency) // Semaphore to limit concurrency

	var submittedCount, queuedCount, failCount int64

	startTime := time.Now()

	for i := 0; i < numEmployees; i++ {
		wg.Add(1)
		sem <- struct{}{} // Acquire token

		employeeID := fmt.Sprintf("load-test-emp-%d", i)

		go func(empID string) {
			defer wg.Done()
			defer func() { <-sem }() // Release token

			for _, logType := range []model.LogType{model.LogTypeIn, model.LogTypeOut} {
				payload, _ := json.Marshal(model.CheckinRequest{
					Employee:  empID,
					LogType:   logType,
					Latitude:  12.9 + rand.Float64()/10,
					Longitude: 77.5 + rand.Float64()/10,
					Landmark:  "Load test site",
				})

				resp, err := http.Post(url, contentType, bytes.NewBuffer(payload))
				if err != nil {
					atomic.AddInt64(&failCount, 1)
					continue
				}

				switch resp.StatusCode {
				case http.StatusCreated:
					atomic.AddInt64(&submittedCount, 1)
				case http.StatusAccepted:
					atomic.AddInt64(&queuedCount, 1)
				default:
					atomic.AddInt64(&failCount, 1)
				}
				resp.Body.Close()
			}
		}(employeeID)
	}

	wg.Wait()
	duration := time.Since(startTime)

	fmt.Println("\n--- Load Test Results ---")
	fmt.Printf("Total Duration: %v\n", duration)
	fmt.Printf("Total Requests: %d\n", totalRequests)
	fmt.Printf("Submitted:      %d\n", submittedCount)
	fmt.Printf("Queued offline: %d\n", queuedCount)
	fmt.Printf("Failed:         %d\n", failCount)
	fmt.Printf("Requests/Sec:   %.2f\n", float64(totalRequests)/duration.Seconds())
}
