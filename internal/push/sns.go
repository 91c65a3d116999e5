package push

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/arn"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// snsPublisher is the slice of *sns.SNS used here.
type snsPublisher interface {
	PublishWithContext(ctx aws.Context, in *sns.PublishInput, opts ...request.Option) (*sns.PublishOutput, error)
}

// SNSTransport publishes through Amazon SNS. Platform endpoint ARNs are
// addressed directly; any other ARN is treated as a topic.
type SNSTransport struct {
	client snsPublisher
}

// NewSNSTransport builds a client for region using the default credential chain.
func NewSNSTransport(region string) (*SNSTransport, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &SNSTransport{client: sns.New(sess)}, nil
}

func (s *SNSTransport) Send(ctx context.Context, n Notification) (string, error) {
	a, err := arn.Parse(n.Target)
	if err != nil {
		return "", fmt.Errorf("%w: target is not an ARN: %v", ErrRejected, err)
	}
	in := &sns.PublishInput{
		Subject: aws.String(subject(n.Title)),
		Message: aws.String(n.Body),
	}
	if strings.HasPrefix(a.Resource, "endpoint/") {
		in.TargetArn = aws.String(n.Target)
	} else {
		in.TopicArn = aws.String(n.Target)
	}
	out, err := s.client.PublishWithContext(ctx, in)
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.StringValue(out.MessageId), nil
}

// subject folds the title to the printable ASCII subset SNS accepts, at most
// 100 characters.
func subject(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, title)
	if err != nil {
		s = title
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			continue
		}
		out = append(out, byte(r))
		if len(out) == 100 {
			break
		}
	}
	return strings.TrimSpace(string(out))
}
