package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"film-forge-server/config"
	"film-forge-server/pkg/logger"
)

// Queue names consumed by the background workers.
const (
	QueueFilmGeneration  = "film_generation"
	QueueVideoGeneration = "video_generation"
)

// Task type constants
const (
	TaskTypeFilmGeneration  = "film_generation"
	TaskTypeVideoGeneration = "video_generation"
)

type RabbitMQClient struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	queues     map[string]amqp.Queue
}

type Task struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Priority  int                    `json:"priority"`
	Retry     int                    `json:"retry"`
	MaxRetry  int                    `json:"max_retry"`
	CreatedAt time.Time              `json:"created_at"`
}

type TaskHandler func(task *Task) error

var Queue *RabbitMQClient

func InitRabbitMQ(cfg *config.Config) error {
	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	Queue = &RabbitMQClient{
		connection: conn,
		channel:    ch,
		queues:     make(map[string]amqp.Queue),
	}

	if err := Queue.declareQueues(); err != nil {
		return fmt.Errorf("failed to declare queues: %w", err)
	}

	logger.Info("RabbitMQ connected successfully")
	return nil
}

func (r *RabbitMQClient) declareQueues() error {
	queueNames := []string{
		QueueFilmGeneration,
		QueueVideoGeneration,
	}

	for _, name := range queueNames {
		queue, err := r.channel.QueueDeclare(
			name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			amqp.Table{
				// A full film run can poll for minutes per scene.
				"x-message-ttl":             int32(6 * 60 * 60 * 1000),
				"x-dead-letter-exchange":    "dlx",
				"x-dead-letter-routing-key": "dlx." + name,
				"x-max-priority":            int32(10),
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		r.queues[name] = queue
	}

	err := r.channel.ExchangeDeclare(
		"dlx",
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}

	return nil
}

func (r *RabbitMQClient) PublishTask(queueName string, task *Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	priority := uint8(task.Priority)
	if priority > 10 {
		priority = 10
	}

	err = r.channel.Publish(
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Priority:     priority,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish task to queue %s: %w", queueName, err)
	}

	logger.Infof("Task published to queue %s: %s", queueName, task.ID)
	return nil
}

func (r *RabbitMQClient) ConsumeTask(queueName string, handler TaskHandler, concurrency int) error {
	err := r.channel.Qos(
		concurrency, // prefetch count
		0,           // prefetch size
		false,       // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := r.channel.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for i := 0; i < concurrency; i++ {
		go r.worker(msgs, handler, queueName)
	}

	logger.Infof("Started %d workers for queue %s", concurrency, queueName)
	return nil
}

func (r *RabbitMQClient) worker(msgs <-chan amqp.Delivery, handler TaskHandler, queueName string) {
	for msg := range msgs {
		var task Task
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			logger.Errorf("Failed to unmarshal task from queue %s: %v", queueName, err)
			msg.Nack(false, false) // Dead letter
			continue
		}

		logger.Infof("Processing task %s from queue %s", task.ID, queueName)

		if err := handler(&task); err != nil {
			logger.Errorf("Task %s failed: %v", task.ID, err)

			if task.Retry < task.MaxRetry {
				task.Retry++
				if retryErr := r.PublishTask(queueName, &task); retryErr != nil {
					logger.Errorf("Failed to retry task %s: %v", task.ID, retryErr)
				} else {
					logger.Infof("Task %s queued for retry (%d/%d)", task.ID, task.Retry, task.MaxRetry)
				}
			}

			msg.Nack(false, false) // Dead letter after max retries
		} else {
			logger.Infof("Task %s completed successfully", task.ID)
			msg.Ack(false)
		}
	}
}

func (r *RabbitMQClient) CreateTask(taskType string, payload map[string]interface{}, priority int) *Task {
	return &Task{
		ID:        fmt.Sprintf("task_%d", time.Now().UnixNano()),
		Type:      taskType,
		Payload:   payload,
		Priority:  priority,
		Retry:     0,
		MaxRetry:  0, // a failed run is restarted by the user, never re-queued blindly
		CreatedAt: time.Now(),
	}
}

func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		return r.connection.Close()
	}
	return nil
}

// Helper publishers for the two task families

func PublishFilmGenerationTask(filmID uint) error {
	task := Queue.CreateTask(TaskTypeFilmGeneration, map[string]interface{}{
		"film_id": filmID,
	}, 8)

	return Queue.PublishTask(QueueFilmGeneration, task)
}

func PublishVideoGenerationTask(videoID uint) error {
	task := Queue.CreateTask(TaskTypeVideoGeneration, map[string]interface{}{
		"video_id": videoID,
	}, 5)

	return Queue.PublishTask(QueueVideoGeneration, task)
}

// FilmIDFromTask extracts the film id from a task payload. JSON numbers
// arrive as float64.
func FilmIDFromTask(task *Task) (uint, error) {
	id, ok := task.Payload["film_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid film_id in task payload")
	}
	return uint(id), nil
}

// VideoIDFromTask extracts the generated-video id from a task payload.
func VideoIDFromTask(task *Task) (uint, error) {
	id, ok := task.Payload["video_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid video_id in task payload")
	}
	return uint(id), nil
}
