// Remote print-worker transport.
//
// Delivery channel for sites where printers hang off a central print worker:
// jobs are published persistently to a durable RabbitMQ queue the worker
// drains. A successful publish is the ack — responsibility transfers to the
// broker; a publish failure means the broker is unreachable. A dead-letter
// exchange catches messages the worker itself cannot process.
package printer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

const (
	printExchange  = "print_jobs"
	printQueueName = "print.q"
	printDLX       = "print_dlx"
	printDLQ       = "print.dlq"
)

// AMQPTransport publishes jobs to a RabbitMQ queue drained by a remote
// print worker.
type AMQPTransport struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects to the broker and declares the print topology: a direct
// exchange, a durable job queue with dead-lettering, and the DLQ itself.
func DialAMQP(url string) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(printExchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(printDLX, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(printQueueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    printDLX,
		"x-dead-letter-routing-key": "dlq",
	}); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(printDLQ, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.QueueBind(printQueueName, "job", printExchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.QueueBind(printDLQ, "dlq", printDLX, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPTransport{conn: conn, ch: ch}, nil
}

// Name implements Transport.
func (t *AMQPTransport) Name() string { return "amqp-worker" }

// workerJob is the message shape consumed by the remote print worker.
type workerJob struct {
	JobID    string    `json:"job_id"`
	OrderID  string    `json:"order_id"`
	Target   string    `json:"target"`
	Template string    `json:"template"`
	Payload  string    `json:"payload"`
	Reprint  bool      `json:"reprint"`
	QueuedAt time.Time `json:"queued_at"`
}

// Dispatch implements Transport by publishing the job persistently. Publish
// errors (closed channel, broker gone) map to Unreachable so the queue
// retries with backoff.
func (t *AMQPTransport) Dispatch(ctx context.Context, job *domain.PrintJob) (Result, error) {
	if job == nil {
		return Result{}, fmt.Errorf("printer: nil job")
	}
	body, err := json.Marshal(workerJob{
		JobID:    job.ID,
		OrderID:  job.OrderID,
		Target:   job.PrinterTarget,
		Template: string(job.Template),
		Payload:  job.Payload,
		Reprint:  job.Reprint,
		QueuedAt: job.CreatedAt,
	})
	if err != nil {
		return Result{}, err
	}

	err = t.ch.PublishWithContext(ctx, printExchange, "job", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return Result{Outcome: Unreachable, Reason: err.Error()}, nil
	}
	return Result{Outcome: Delivered}, nil
}

// Reachable implements Transport: the broker connection doubles as the
// heartbeat.
func (t *AMQPTransport) Reachable(ctx context.Context) bool {
	return t.conn != nil && !t.conn.IsClosed()
}

// Close releases the channel and connection.
func (t *AMQPTransport) Close() {
	if t == nil {
		return
	}
	if t.ch != nil {
		_ = t.ch.Close()
	}
	if t.conn != nil {
		_ = t.conn.Close()
	}
}
