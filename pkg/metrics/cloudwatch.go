package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const defaultCloudWatchNamespace = "LeaseLeader"

// CloudWatchAPI provides CloudWatch operations.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher publishes metrics to AWS CloudWatch.
type CloudWatchPublisher struct {
	client    CloudWatchAPI
	namespace string
}

// Ensure CloudWatchPublisher implements Publisher.
var _ Publisher = (*CloudWatchPublisher)(nil)

// NewCloudWatchPublisherWithNamespace creates a CloudWatch metrics publisher with custom namespace.
func NewCloudWatchPublisherWithNamespace(cfg aws.Config, namespace string) *CloudWatchPublisher {
	return NewCloudWatchPublisherWithClient(cloudwatch.NewFromConfig(cfg), namespace)
}

// NewCloudWatchPublisherWithClient creates a publisher over an existing client.
func NewCloudWatchPublisherWithClient(client CloudWatchAPI, namespace string) *CloudWatchPublisher {
	if namespace == "" {
		namespace = defaultCloudWatchNamespace
	}
	return &CloudWatchPublisher{
		client:    client,
		namespace: namespace,
	}
}

// Close implements Publisher.Close. CloudWatch client doesn't require cleanup.
func (p *CloudWatchPublisher) Close() error {
	return nil
}

// PublishLeadershipAcquired publishes leadership acquired metric.
func (p *CloudWatchPublisher) PublishLeadershipAcquired(ctx context.Context) error {
	return p.putMetric(ctx, "LeadershipAcquired", 1, types.StandardUnitCount)
}

// PublishLeadershipLost publishes leadership lost metric with reason dimension.
func (p *CloudWatchPublisher) PublishLeadershipLost(ctx context.Context, reason string) error {
	return p.putDimensionMetric(ctx, "LeadershipLost", 1, types.StandardUnitCount, "Reason", reason)
}

// PublishLeaderStatus publishes the leader gauge.
func (p *CloudWatchPublisher) PublishLeaderStatus(ctx context.Context, leader bool) error {
	return p.putGaugeMetric(ctx, "IsLeader", boolGauge(leader), types.StandardUnitCount)
}

// PublishRenewalLatency publishes renewal latency in milliseconds.
func (p *CloudWatchPublisher) PublishRenewalLatency(ctx context.Context, latency time.Duration) error {
	return p.putMetric(ctx, "RenewalLatency", float64(latency.Milliseconds()), types.StandardUnitMilliseconds)
}

// PublishRenewalFailure publishes renewal failure metric with reason dimension.
func (p *CloudWatchPublisher) PublishRenewalFailure(ctx context.Context, reason string) error {
	return p.putDimensionMetric(ctx, "RenewalFailures", 1, types.StandardUnitCount, "Reason", reason)
}

// PublishStoreError publishes store error metric with operation dimension.
func (p *CloudWatchPublisher) PublishStoreError(ctx context.Context, operation string) error {
	return p.putDimensionMetric(ctx, "StoreErrors", 1, types.StandardUnitCount, "Operation", operation)
}

// PublishConflict publishes conflict metric.
func (p *CloudWatchPublisher) PublishConflict(ctx context.Context) error {
	return p.putMetric(ctx, "Conflicts", 1, types.StandardUnitCount)
}

// PublishCallbackPanic publishes callback panic metric with event dimension.
func (p *CloudWatchPublisher) PublishCallbackPanic(ctx context.Context, event string) error {
	return p.putDimensionMetric(ctx, "CallbackPanics", 1, types.StandardUnitCount, "Event", event)
}

// PublishEvent is a no-op for CloudWatch (Datadog-specific feature).
func (p *CloudWatchPublisher) PublishEvent(_ context.Context, _, _, _ string, _ []string) error { //nolint:revive
	return nil
}

func (p *CloudWatchPublisher) putMetric(ctx context.Context, name string, value float64, unit types.StandardUnit) error {
	return p.put(ctx, name, types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
	})
}

func (p *CloudWatchPublisher) putDimensionMetric(ctx context.Context, name string, value float64, unit types.StandardUnit, dimName, dimValue string) error {
	return p.put(ctx, name, types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: []types.Dimension{
			{
				Name:  aws.String(dimName),
				Value: aws.String(dimValue),
			},
		},
	})
}

func (p *CloudWatchPublisher) putGaugeMetric(ctx context.Context, name string, value float64, unit types.StandardUnit) error {
	return p.put(ctx, name, types.MetricDatum{
		MetricName: aws.String(name),
		StatisticValues: &types.StatisticSet{
			SampleCount: aws.Float64(1),
			Sum:         aws.Float64(value),
			Minimum:     aws.Float64(value),
			Maximum:     aws.Float64(value),
		},
		Unit:      unit,
		Timestamp: aws.Time(time.Now()),
	})
}

func (p *CloudWatchPublisher) put(ctx context.Context, name string, datum types.MetricDatum) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: []types.MetricDatum{datum},
	})
	if err != nil {
		return fmt.Errorf("failed to publish metric %s: %w", name, err)
	}
	return nil
}
