package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"film-forge-server/pkg/logger"
)

// Event types published by the pipeline.
const (
	TypeStageChanged     = "stage_changed"
	TypeChapterStarted   = "chapter_started"
	TypeChapterCompleted = "chapter_completed"
	TypeChapterFailed    = "chapter_failed"
	TypeSceneStarted     = "scene_started"
	TypeSceneCompleted   = "scene_completed"
	TypeSceneFailed      = "scene_failed"
	TypeFilmCompleted    = "film_completed"
	TypeFilmFailed       = "film_failed"
)

// Event is one discrete pipeline notification. Delivery is at-most-once with
// no replay; subscribers reconcile against the progress endpoint.
type Event struct {
	Type          string    `json:"type"`
	FilmID        uint      `json:"film_id"`
	Stage         string    `json:"stage,omitempty"`
	ChapterNumber int       `json:"chapter_number,omitempty"`
	FrameNumber   int       `json:"frame_number,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Relay broadcasts pipeline events to subscribers of a film.
type Relay interface {
	Publish(filmID uint, event Event)
}

// RedisRelay carries events over redis pub/sub, one channel per film.
type RedisRelay struct {
	client *redis.Client
}

func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client}
}

func channelForFilm(filmID uint) string {
	return fmt.Sprintf("film:events:%d", filmID)
}

// Publish is best-effort: a relay failure is logged and never interrupts the
// pipeline.
func (r *RedisRelay) Publish(filmID uint, event Event) {
	event.FilmID = filmID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("Failed to marshal event %s for film %d: %v", event.Type, filmID, err)
		return
	}

	if err := r.client.Publish(context.Background(), channelForFilm(filmID), payload).Err(); err != nil {
		logger.Warnf("Failed to publish event %s for film %d: %v", event.Type, filmID, err)
	}
}

// Subscribe streams events for one film until ctx is cancelled.
func (r *RedisRelay) Subscribe(ctx context.Context, filmID uint) <-chan Event {
	sub := r.client.Subscribe(ctx, channelForFilm(filmID))
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warnf("Dropping malformed event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- event:
				default:
					// Slow subscriber; events are best-effort.
				}
			}
		}
	}()

	return out
}
