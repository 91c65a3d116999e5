package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/segmentio/kafka-go"
)

// Manifest describes one persisted golden record.
type Manifest struct {
	Version   int64     `json:"version"`
	KeySchema string    `json:"keySchema"`
	Records   int       `json:"records"`
	SavedAt   time.Time `json:"savedAt"`
	UploadID  string    `json:"uploadId,omitempty"`
}

// Next returns the manifest that follows m for a new save.
func (m Manifest) Next(keySchema string, records int, uploadID string, now time.Time) Manifest {
	return Manifest{
		Version:   m.Version + 1,
		KeySchema: keySchema,
		Records:   records,
		SavedAt:   now.UTC(),
		UploadID:  uploadID,
	}
}

type Publisher interface {
	PublishLatest(ctx context.Context, m Manifest) error
}

// MultiPublisher writes to multiple publishers sequentially.
type MultiPublisherImpl struct {
	pubs []Publisher
}

func MultiPublisher(pubs ...Publisher) Publisher {
	return &MultiPublisherImpl{pubs: pubs}
}

func (m *MultiPublisherImpl) PublishLatest(ctx context.Context, man Manifest) error {
	for _, p := range m.pubs {
		if err := p.PublishLatest(ctx, man); err != nil {
			return err
		}
	}
	return nil
}

type Reader interface {
	ReadLatest() (Manifest, error)
}

const latestFile = "manifest.latest.json"

type FilesystemManifest struct {
	baseDir string
}

func NewFilesystemManifest(baseDir string) *FilesystemManifest {
	return &FilesystemManifest{baseDir: baseDir}
}

func (f *FilesystemManifest) PublishLatest(_ context.Context, m Manifest) error {
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	b, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := atomicwriter.WriteFile(filepath.Join(f.baseDir, latestFile), b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (f *FilesystemManifest) ReadLatest() (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(f.baseDir, latestFile))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, ErrNoManifest
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// KafkaManifest publishes the latest manifest as a compacted Kafka record so
// dashboards can refresh when a new golden record lands.
type KafkaManifest struct {
	writer kafkaMessageWriter
	key    []byte
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// SplitBrokers parses a comma-separated bootstrap list.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}

// NewKafkaManifest creates a Kafka manifest publisher. key is typically "golden-manifest-latest".
func NewKafkaManifest(bootstrap string, topic string, key string) *KafkaManifest {
	return &KafkaManifest{writer: &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}, key: []byte(key)}
}

func (k *KafkaManifest) PublishLatest(ctx context.Context, m Manifest) error {
	b, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: k.key, Value: b})
}

// NewKafkaManifestWith is only for tests to inject a fake writer.
func NewKafkaManifestWith(w kafkaMessageWriter, key string) *KafkaManifest {
	return &KafkaManifest{writer: w, key: []byte(key)}
}

// ErrNoManifest is returned when no manifest has been published yet.
var ErrNoManifest = errors.New("no manifest published")

type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaReader reads the latest manifest record from a compacted topic.
type KafkaReader struct {
	newReader func() kafkaMessageReader
	key       []byte
	wait      time.Duration
}

func NewKafkaReader(bootstrap string, topic string, key string) *KafkaReader {
	brokers := SplitBrokers(bootstrap)
	return &KafkaReader{
		newReader: func() kafkaMessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
		},
		key:  []byte(key),
		wait: 10 * time.Second,
	}
}

// ReadLatest scans the topic from the beginning and keeps the last record for
// the key. Fine for a compacted topic with one live key.
func (k *KafkaReader) ReadLatest() (Manifest, error) {
	r := k.newReader()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), k.wait)
	defer cancel()

	var (
		last  Manifest
		found bool
	)
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return Manifest{}, fmt.Errorf("read kafka: %w", err)
		}
		if !bytes.Equal(m.Key, k.key) {
			continue
		}
		var man Manifest
		if err := json.Unmarshal(m.Value, &man); err != nil {
			return Manifest{}, fmt.Errorf("unmarshal kafka manifest: %w", err)
		}
		last, found = man, true
	}
	if !found {
		return Manifest{}, ErrNoManifest
	}
	return last, nil
}
