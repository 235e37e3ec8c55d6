package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// tally считает сообщения одного прогона.
type tally struct {
	scanned  int
	replayed int
	skipped  int
}

func (t *tally) add(o tally) {
	t.scanned += o.scanned
	t.replayed += o.replayed
	t.skipped += o.skipped
}

func (t tally) fields() log.Fields {
	return log.Fields{"scanned": t.scanned, "replayed": t.replayed, "skipped": t.skipped}
}

// replayer обходит партиции DLQ по возрастанию номера, пока не исчерпан лимит.
type replayer struct {
	cfg      config
	offsets  offsetClient
	source   partitionSource
	producer replayProducer
	logger   *log.Entry
	now      func() time.Time
}

func (r *replayer) Run(ctx context.Context) (tally, error) {
	var total tally
	if r.offsets == nil || r.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.Warn("source topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		got, err := r.drain(ctx, partition, budget)
		total.add(got)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// window возвращает диапазон смещений [start, end) для чтения партиции.
// При fromNewest окно прижато к концу и не длиннее budget.
func (r *replayer) window(partition int32, budget int) (start, end int64, err error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err = r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	start = oldest
	if r.cfg.fromNewest {
		start = max(oldest, end-int64(budget))
	}
	return start, end, nil
}

// drain читает партицию до конца окна, до budget сообщений или до
// idleTimeout тишины.
func (r *replayer) drain(ctx context.Context, partition int32, budget int) (tally, error) {
	var got tally
	start, end, err := r.window(partition, budget)
	if err != nil || start >= end {
		return got, err
	}

	pc, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return got, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for got.scanned < budget {
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-idle.C:
			return got, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return got, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return got, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			got.scanned++
			replayed, err := r.handle(msg)
			if err != nil {
				return got, err
			}
			if replayed {
				got.replayed++
			} else {
				got.skipped++
			}
			if msg.Offset+1 >= end {
				return got, nil
			}
		}
	}
	return got, nil
}

// handle разбирает одно сообщение DLQ. Ошибка возвращается только при
// сбое публикации, негодные записи пропускаются.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	event, err := decodeDeadLetter(msg, r.cfg.targetTopic, r.now())
	switch {
	case errors.Is(err, errNotDeadLetter):
		return false, nil
	case err != nil:
		entry.WithError(err).Warn("skip unsupported dlq message")
		return false, nil
	}

	if !r.cfg.execute {
		entry.WithField("key", event.key).Info("dlq replay candidate")
		return true, nil
	}
	if err := event.publish(r.producer); err != nil {
		return false, fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
	}
	return true, nil
}
