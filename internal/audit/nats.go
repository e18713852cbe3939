package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultSubjectPrefix roots the subjects batches are published on.
const DefaultSubjectPrefix = "tablesync.synclog"

// Publisher is the subset of jetstream.JetStream the NATS sink uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSLog publishes each batch to JetStream on
// <prefix>.<account>.<device>, deduplicated by pass id.
type NATSLog struct {
	js     Publisher
	prefix string
	now    func() time.Time
}

// NewNATSLog creates a sink over an existing JetStream handle.
func NewNATSLog(js Publisher, prefix string) *NATSLog {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSLog{js: js, prefix: prefix, now: time.Now}
}

// ConnectNATS dials url and returns a sink plus a function that drains
// and closes the connection.
func ConnectNATS(url, prefix string) (*NATSLog, func(), error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return NewNATSLog(js, prefix), func() { _ = nc.Drain() }, nil
}

// Subject returns the subject a batch for account and device goes to.
func (l *NATSLog) Subject(account, device string) string {
	return fmt.Sprintf("%s.%s.%s", l.prefix, subjectToken(account), subjectToken(device))
}

// Append implements Log. A batch without SyncedAt is stamped with the
// publish time, since JetStream has no server-side field stamping.
func (l *NATSLog) Append(ctx context.Context, batch Batch) error {
	if batch.SyncedAt.IsZero() {
		batch.SyncedAt = l.now().UTC()
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("audit: encode batch: %w", err)
	}
	subject := l.Subject(batch.AccountID, batch.DeviceID)
	if _, err := l.js.Publish(ctx, subject, data, jetstream.WithMsgID(batch.PassID)); err != nil {
		return fmt.Errorf("audit: publish %s: %w", subject, err)
	}
	return nil
}

// subjectToken makes s safe to use as one subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
