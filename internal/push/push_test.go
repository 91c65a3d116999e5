package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/rs/zerolog"
)

func TestWebhookTransport_Success(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k1" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	id, err := NewWebhookTransport(srv.URL, "k1").Send(context.Background(), Notification{Target: "D1", Title: "t", Body: "b"})
	if err != nil || id != "msg-1" {
		t.Fatalf("send: id=%q err=%v", id, err)
	}
	if got.Target != "D1" || got.Title != "t" || got.Body != "b" {
		t.Fatalf("payload: %+v", got)
	}
}

func TestWebhookTransport_Non2xxIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such player", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewWebhookTransport(srv.URL, "").Send(context.Background(), Notification{Target: "x"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
}

type fakeSNS struct {
	in *sns.PublishInput
}

func (f *fakeSNS) PublishWithContext(ctx aws.Context, in *sns.PublishInput, opts ...request.Option) (*sns.PublishOutput, error) {
	f.in = in
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNSTransport_AddressesEndpointOrTopic(t *testing.T) {
	f := &fakeSNS{}
	s := &SNSTransport{client: f}
	ctx := context.Background()

	endpoint := "arn:aws:sns:us-east-1:123456789012:endpoint/GCM/app/3f2a"
	id, err := s.Send(ctx, Notification{Target: endpoint, Title: "t", Body: "b"})
	if err != nil || id != "sns-1" {
		t.Fatalf("send: id=%q err=%v", id, err)
	}
	if aws.StringValue(f.in.TargetArn) != endpoint || f.in.TopicArn != nil {
		t.Fatalf("endpoint should use TargetArn: %+v", f.in)
	}

	topic := "arn:aws:sns:us-east-1:123456789012:destino-D1"
	if _, err := s.Send(ctx, Notification{Target: topic}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if aws.StringValue(f.in.TopicArn) != topic || f.in.TargetArn != nil {
		t.Fatalf("topic should use TopicArn: %+v", f.in)
	}

	if _, err := s.Send(ctx, Notification{Target: "player-1"}); !errors.Is(err, ErrRejected) {
		t.Fatalf("non-ARN target: want ErrRejected, got %v", err)
	}
}

func TestRateLimited_HonorsContext(t *testing.T) {
	tr := RateLimited(LogTransport{Logger: zerolog.Nop()}, 0.001, 1)
	if _, err := tr.Send(context.Background(), Notification{}); err != nil {
		t.Fatalf("first send uses the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tr.Send(ctx, Notification{}); err == nil {
		t.Fatalf("second send should fail waiting for a token")
	}
}

func TestRateLimited_ZeroIsPassthrough(t *testing.T) {
	base := LogTransport{Logger: zerolog.Nop()}
	if _, ok := RateLimited(base, 0, 5).(LogTransport); !ok {
		t.Fatalf("rps=0 should return the transport unchanged")
	}
}

func TestSubject_FoldsToASCII(t *testing.T) {
	if got := subject("Actualización en Destino: D1"); got != "Actualizacion en Destino: D1" {
		t.Fatalf("subject=%q", got)
	}
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	if got := subject(string(long)); len(got) != 100 {
		t.Fatalf("subject length %d", len(got))
	}
}
