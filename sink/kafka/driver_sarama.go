package kafka

import (
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"xslttester/internal/logging"
	"xslttester/sink"
)

type Config struct {
	Brokers  []string `koanf:"brokers" yaml:"brokers"`
	Topic    string   `koanf:"topic" yaml:"topic"`
	Acks     int16    `koanf:"required_acks" yaml:"required_acks"` // 0,1,-1
	ClientID string   `koanf:"client_id" yaml:"client_id"`
}

// newProducer is swapped in tests.
var newProducer = sarama.NewAsyncProducer

type driver struct {
	cfg Config
	p   sarama.AsyncProducer
	ack sink.EmitFn

	wg   sync.WaitGroup
	once sync.Once
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return fmt.Errorf("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	p, err := newProducer(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.p = p

	d.wg.Add(2)
	go d.drainSuccesses()
	go d.drainErrors()
	return nil
}

func (d *driver) Push(r sink.Result) error {
	failed := "false"
	if r.Failed {
		failed = "true"
	}
	d.p.Input() <- &sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Key:   sarama.StringEncoder(r.Kind),
		Value: sarama.StringEncoder(r.Text),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failed"), Value: []byte(failed)},
			{Key: []byte("task_id"), Value: []byte(r.ID)},
		},
		Metadata:  r,
		Timestamp: r.At,
	}
	return nil
}

func (d *driver) drainSuccesses() {
	defer d.wg.Done()
	for msg := range d.p.Successes() {
		d.emit(msg, nil)
	}
}

func (d *driver) drainErrors() {
	defer d.wg.Done()
	for pe := range d.p.Errors() {
		logging.L().Warn("kafka-sink: delivery failed", "topic", d.cfg.Topic, "err", pe.Err)
		d.emit(pe.Msg, pe.Err)
	}
}

func (d *driver) emit(msg *sarama.ProducerMessage, err error) {
	if d.ack == nil || msg == nil {
		return
	}
	r, _ := msg.Metadata.(sink.Result)
	d.ack(r, err)
}

// Close flushes buffered messages. Delivery failures have already been
// logged and acked by the time it returns.
func (d *driver) Close() error {
	d.once.Do(func() {
		if d.p == nil {
			return
		}
		d.p.AsyncClose()
		d.wg.Wait()
	})
	return nil
}

func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
