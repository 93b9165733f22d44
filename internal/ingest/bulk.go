package ingest

import (
	"context"
	"sort"
	"sync"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/model"
)

const (
	// MaxBulkItems caps one bulk upload. Larger batches are rejected whole.
	MaxBulkItems = 1000

	// bulkWorkers bounds cross-device concurrency. Items for the same
	// device always run serially, in batch order.
	bulkWorkers = 8
)

// BulkUpdate processes a bulk location upload. Items are grouped per device
// and applied in batch order within each group; groups run concurrently.
// Item failures are reported per item and never abort the batch.
func (p *Pipeline) BulkUpdate(ctx context.Context, userID uint, items []model.BulkLocationItem) (*model.BulkResult, error) {
	if len(items) == 0 {
		return nil, apperr.InvalidInput("locations must not be empty")
	}
	if len(items) > MaxBulkItems {
		return nil, apperr.InvalidInput("too many locations in one batch").
			WithDetail("max_items", MaxBulkItems).
			WithDetail("got", len(items))
	}

	groups := groupByDevice(items)

	result := &model.BulkResult{Total: len(items)}
	var mu sync.Mutex

	sem := make(chan struct{}, bulkWorkers)
	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(group []model.BulkLocationItem) {
			defer wg.Done()
			defer func() { <-sem }()
			p.bulkDevice(ctx, userID, group, result, &mu)
		}(group)
	}
	wg.Wait()

	return result, nil
}

// bulkDevice applies one device's items serially. An out-of-order batch for
// a device fails every item of that device; the store is never touched.
func (p *Pipeline) bulkDevice(ctx context.Context, userID uint, group []model.BulkLocationItem, result *model.BulkResult, mu *sync.Mutex) {
	deviceID := group[0].DeviceID

	if err := validateChronology(group); err != nil {
		mu.Lock()
		for range group {
			result.Failed = append(result.Failed, failure(deviceID, err))
		}
		mu.Unlock()
		return
	}

	for i := range group {
		req := group[i].LocationUpdateRequest
		_, err := p.UpdateLocation(ctx, userID, deviceID, &req)

		mu.Lock()
		if err != nil {
			result.Failed = append(result.Failed, failure(deviceID, err))
		} else {
			result.Successful = append(result.Successful, deviceID)
		}
		mu.Unlock()
	}
}

// groupByDevice splits the batch into per-device slices, preserving batch
// order within each group. Group iteration order is by device id so runs
// are deterministic.
func groupByDevice(items []model.BulkLocationItem) [][]model.BulkLocationItem {
	byDevice := make(map[uint][]model.BulkLocationItem)
	for _, item := range items {
		byDevice[item.DeviceID] = append(byDevice[item.DeviceID], item)
	}

	ids := make([]uint, 0, len(byDevice))
	for id := range byDevice {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	groups := make([][]model.BulkLocationItem, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, byDevice[id])
	}
	return groups
}

// validateChronology requires a device's explicit timestamps to be
// non-decreasing in batch order. Items without timestamps are stamped at
// ingest time and are exempt.
func validateChronology(group []model.BulkLocationItem) error {
	var last *model.BulkLocationItem
	for i := range group {
		item := &group[i]
		if item.Timestamp == nil {
			continue
		}
		if last != nil && item.Timestamp.Before(*last.Timestamp) {
			return apperr.InvalidInput("bulk items for a device must be in chronological order").
				WithDetail("device_id", item.DeviceID)
		}
		last = item
	}
	return nil
}

func failure(deviceID uint, err error) model.BulkItemFailure {
	return model.BulkItemFailure{
		DeviceID:  deviceID,
		Error:     err.Error(),
		ErrorKind: string(apperr.KindOf(err)),
	}
}
