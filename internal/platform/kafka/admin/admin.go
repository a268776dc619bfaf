package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicSpec describes a topic the service needs before it starts producing.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

// EnsureTopics creates any missing topics. Topics that already exist are left
// untouched, whatever their partition count.
func EnsureTopics(ctx context.Context, brokers []string, specs ...TopicSpec) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()
	adm := kadm.NewClient(client)

	for _, spec := range specs {
		partitions, replication := spec.Partitions, spec.ReplicationFactor
		if partitions <= 0 {
			partitions = 1
		}
		if replication <= 0 {
			replication = -1 // broker default
		}
		resp, err := adm.CreateTopic(ctx, partitions, replication, nil, spec.Name)
		if err == nil {
			err = resp.Err
		}
		if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", spec.Name, err)
		}
	}
	return nil
}
