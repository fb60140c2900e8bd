package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/google/uuid"
	"github.com/power-plant/powerplant/pkg/logger"
)

var log = logger.Get("JobDispatch")

type Kind string

const (
	Download    Kind = "download"
	Compression Kind = "compression"

	// jobNamePrefix keys every job run to this system; combined with the
	// record id it makes duplicate submissions for the same record
	// distinguishable by name alone.
	jobNamePrefix = "power-plant"

	// Download runs are bounded near the downloader's idle/seed-timeout
	// envelope plus encode headroom; compression runs by the expected
	// transcode duration of the largest expected file.
	downloadAttemptSeconds    = int32(3600 * 0.45)
	compressionAttemptSeconds = int32(3600)
)

type (
	Config struct {
		Queue                 string `yaml:"queue" env:"JOB_QUEUE"`
		HighPriorityQueue     string `yaml:"high_priority_queue" env:"JOB_QUEUE_FOR_HIGH"`
		DownloadDefinition    string `yaml:"download_definition" env:"JOB_DEFINITION_FOR_DOWNLOAD"`
		CompressionDefinition string `yaml:"compression_definition" env:"JOB_DEFINITION_FOR_COMPRESSION"`
	}

	// batchAPI is the slice of the AWS Batch client this service uses,
	// declared locally so tests can substitute a fake.
	batchAPI interface {
		SubmitJob(ctx context.Context, params *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
		ListJobs(ctx context.Context, params *batch.ListJobsInput, optFns ...func(*batch.Options)) (*batch.ListJobsOutput, error)
	}

	// Summary is one historical attempt of a job run for a record. It is
	// never persisted locally; the job backend is the source of truth.
	Summary struct {
		JobID     string     `json:"jobId"`
		JobName   string     `json:"jobName"`
		Kind      Kind       `json:"type"`
		Status    string     `json:"status"`
		CreatedAt *time.Time `json:"createdAt"`
		StoppedAt *time.Time `json:"stoppedAt"`

		// DurationMillis is stoppedAt - createdAt, nil when either
		// timestamp is missing (e.g. the run has not stopped yet).
		DurationMillis *int64 `json:"duration"`
	}

	// Service submits acquisition runs to the external job backend and
	// lists historical attempts. It is a thin pass-through: no state is
	// cached locally.
	Service struct {
		client batchAPI
		config *Config
	}
)

func New(ctx context.Context, config *Config) (*Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &Service{client: batch.NewFromConfig(awsCfg), config: config}, nil
}

func NewWithClient(client batchAPI, config *Config) *Service {
	return &Service{client: client, config: config}
}

// JobName constructs the deterministic name for a job of the given kind
// against the given record.
func JobName(kind Kind, recordID uuid.UUID) string {
	return fmt.Sprintf("%s-%s-%s", jobNamePrefix, kind, recordID)
}

// SubmitDownload enqueues a download acquisition run for the record. The
// run executes the worker binary against the record's stored download URL.
func (service *Service) SubmitDownload(ctx context.Context, recordID uuid.UUID) error {
	return service.submit(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(JobName(Download, recordID)),
		JobDefinition: aws.String(service.config.DownloadDefinition),
		JobQueue:      aws.String(service.config.Queue),
		Timeout:       &types.JobTimeout{AttemptDurationSeconds: aws.Int32(downloadAttemptSeconds)},
		ContainerOverrides: &types.ContainerOverrides{
			Command: []string{"/worker", string(Download), recordID.String()},
		},
	})
}

// SubmitCompression enqueues a compression run for one media URL of the
// record. Compression runs use the high-priority queue as they hold a
// transcode slot for their full duration.
func (service *Service) SubmitCompression(ctx context.Context, recordID uuid.UUID, targetURL string) error {
	return service.submit(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(JobName(Compression, recordID)),
		JobDefinition: aws.String(service.config.CompressionDefinition),
		JobQueue:      aws.String(service.config.HighPriorityQueue),
		Timeout:       &types.JobTimeout{AttemptDurationSeconds: aws.Int32(compressionAttemptSeconds)},
		ContainerOverrides: &types.ContainerOverrides{
			Command: []string{"/worker", string(Compression), recordID.String(), targetURL},
		},
	})
}

func (service *Service) submit(ctx context.Context, input *batch.SubmitJobInput) error {
	output, err := service.client.SubmitJob(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to submit job %s: %w", aws.ToString(input.JobName), err)
	}

	log.Emit(logger.NEW, "Submitted job %s (id %s)\n", aws.ToString(input.JobName), aws.ToString(output.JobId))
	return nil
}

// List returns all historical attempts of both job kinds for the record,
// matched by job name. A record with no prior submissions yields an empty
// slice, not an error.
func (service *Service) List(ctx context.Context, recordID uuid.UUID) ([]Summary, error) {
	downloads, err := service.listKind(ctx, Download, service.config.Queue, recordID)
	if err != nil {
		return nil, err
	}

	compressions, err := service.listKind(ctx, Compression, service.config.HighPriorityQueue, recordID)
	if err != nil {
		return nil, err
	}

	return append(downloads, compressions...), nil
}

func (service *Service) listKind(ctx context.Context, kind Kind, queue string, recordID uuid.UUID) ([]Summary, error) {
	name := JobName(kind, recordID)
	output, err := service.client.ListJobs(ctx, &batch.ListJobsInput{
		JobQueue:   aws.String(queue),
		MaxResults: aws.Int32(100),
		Filters: []types.KeyValuesPair{
			{Name: aws.String("JOB_NAME"), Values: []string{name}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs for %s: %w", kind, recordID, err)
	}

	summaries := make([]Summary, 0, len(output.JobSummaryList))
	for _, job := range output.JobSummaryList {
		summaries = append(summaries, newSummary(kind, job))
	}

	return summaries, nil
}

func newSummary(kind Kind, job types.JobSummary) Summary {
	summary := Summary{
		JobID:     aws.ToString(job.JobId),
		JobName:   aws.ToString(job.JobName),
		Kind:      kind,
		Status:    string(job.Status),
		CreatedAt: millisToTime(job.CreatedAt),
		StoppedAt: millisToTime(job.StoppedAt),
	}

	if job.CreatedAt != nil && job.StoppedAt != nil {
		duration := *job.StoppedAt - *job.CreatedAt
		summary.DurationMillis = &duration
	}

	return summary
}

func millisToTime(millis *int64) *time.Time {
	if millis == nil {
		return nil
	}

	converted := time.UnixMilli(*millis)
	return &converted
}
