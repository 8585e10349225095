package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hive-corporation/cticollector/internal/core/ports"
)

var propagator = propagation.TraceContext{}

// Publisher is the part of *nats.Conn the notifier needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSNotifier publishes run summaries on "<subject>.run" and high-threat
// indicators on "<subject>.ioc" as JSON, with the trace context in the
// message headers.
type NATSNotifier struct {
	pub     Publisher
	subject string
}

func NewNATSNotifier(pub Publisher, subject string) *NATSNotifier {
	return &NATSNotifier{pub: pub, subject: subject}
}

// ConnectNATS dials url and wraps the connection. Close the returned
// connection on shutdown.
func ConnectNATS(url, subject string) (*NATSNotifier, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("cticollector"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewNATSNotifier(nc, subject), nc, nil
}

func (n *NATSNotifier) Name() string {
	return "nats"
}

func (n *NATSNotifier) NotifyRunSummary(ctx context.Context, run ports.RunNotification) error {
	return n.publish(ctx, n.subject+".run", run)
}

func (n *NATSNotifier) NotifyHighThreatIOC(ctx context.Context, ioc ports.IOCNotification) error {
	return n.publish(ctx, n.subject+".ioc", ioc)
}

func (n *NATSNotifier) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}

	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))

	if err := n.pub.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: hdr}); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}
