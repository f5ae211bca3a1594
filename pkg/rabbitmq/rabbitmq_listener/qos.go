package rabbitmq_listener

import (
	"fmt"
	"math"
)

// DefaultPrefetchCount используется, если сервис не задал prefetch count
const DefaultPrefetchCount uint64 = 1

const (
	// prefetch-count в basic.qos - short, prefetch-size - long
	maxPrefetchCount = math.MaxUint16
	maxPrefetchSize  = math.MaxInt32
)

// applyQos выставляет prefetch на канале и помечает handle.
// При любой ошибке флаг остается неустановленным.
func applyQos(h *ChannelHandle, prefetchCount, prefetchSize *uint64, global bool) error {
	count := DefaultPrefetchCount
	if prefetchCount != nil {
		count = *prefetchCount
	}
	if count > maxPrefetchCount {
		return wrapErr(ErrQosApplicationFailed,
			fmt.Errorf("%w: prefetch count %d exceeds %d", ErrPrefetchOverflow, count, maxPrefetchCount))
	}

	// размер 0 означает "без ограничения" - поведение брокера по умолчанию
	size := 0
	if prefetchSize != nil {
		if *prefetchSize > maxPrefetchSize {
			return wrapErr(ErrQosApplicationFailed,
				fmt.Errorf("%w: prefetch size %d exceeds %d", ErrPrefetchOverflow, *prefetchSize, maxPrefetchSize))
		}
		size = int(*prefetchSize)
	}

	if err := h.channel.Qos(int(count), size, global); err != nil {
		return wrapErr(ErrQosApplicationFailed, err)
	}
	h.markQosApplied()
	return nil
}
