package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/windholt/spacehost"
)

// CommitChannel carries every commit event.
const CommitChannel = "spacehost:commits"

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, event spacehost.Event) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, CommitChannel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Realtime forwards commit events to output until ctx ends. Space
// names received on input replace the active filter; an empty filter
// passes everything. Neither channel is closed here or by the caller;
// cancelling ctx is the only teardown, so an in-flight send can never
// hit a closed channel.
func (s *SignalService) Realtime(ctx context.Context, input chan []string, output chan spacehost.Event) {
	pubsub := s.rdb.Subscribe(ctx, CommitChannel)
	defer pubsub.Close()

	s.forward(ctx, pubsub.Channel(), input, output)
}

func (s *SignalService) forward(ctx context.Context, ch <-chan *redis.Message, input chan []string, output chan spacehost.Event) {
	filter := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return
		case spaces, ok := <-input:
			if !ok {
				return
			}
			filter = map[string]bool{}
			for _, space := range spaces {
				filter[space] = true
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event spacehost.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			if len(filter) > 0 && !filter[event.Space] {
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
