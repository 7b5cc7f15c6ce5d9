package artifacts

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/examlytics/examctl/internal/config"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/http"
	"github.com/examlytics/examctl/internal/logging"
	"github.com/examlytics/examctl/internal/models"
)

// Mirror copies a downloaded artifact to remote storage.
type Mirror interface {
	// Name identifies the backend in logs and events ("s3", "azure").
	Name() string
	// Put uploads the file at localPath under key and returns its remote location.
	Put(ctx context.Context, key, localPath string) (string, error)
}

// NewMirror builds the mirror selected by cfg.Mirror. It returns nil, nil when
// mirroring is off.
func NewMirror(ctx context.Context, cfg *config.Config, httpClient *nethttp.Client) (Mirror, error) {
	switch strings.ToLower(cfg.Mirror) {
	case "", "none":
		return nil, nil
	case "s3":
		m, err := NewS3Mirror(ctx, S3Options{
			Bucket:     cfg.S3Bucket,
			Region:     cfg.S3Region,
			Prefix:     cfg.S3Prefix,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case "azure":
		m, err := NewAzureMirror(cfg.AzureContainerURL, httpClient)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown mirror %q (use none, s3 or azure)", cfg.Mirror)
	}
}

// ObjectKey is the remote key for an artifact file: <job id>/<file name>.
func ObjectKey(jobID models.ID, fileName string) string {
	return path.Join(jobID.String(), fileName)
}

// MirrorResults uploads every successfully downloaded result. Failures are
// logged and returned joined; they never undo the local download.
func MirrorResults(ctx context.Context, m Mirror, jobID models.ID, results []Result, bus *events.EventBus, logger *logging.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	var locations []string
	var errs []error
	for _, r := range results {
		if r.Err != nil || r.Path == "" {
			continue
		}
		key := ObjectKey(jobID, path.Base(strings.ReplaceAll(r.Path, `\`, "/")))
		loc, err := m.Put(ctx, key, r.Path)
		if err != nil {
			logger.Warn().Err(err).Str("mirror", m.Name()).Str("key", key).Msg("mirror upload failed")
			errs = append(errs, fmt.Errorf("%s: %w", r.Artifact.Name, err))
			continue
		}
		logger.Info().Str("mirror", m.Name()).Str("location", loc).Msg("artifact mirrored")
		bus.PublishArtifact(events.EventArtifactMirrored, jobID.String(), r.Artifact.Name, loc, r.Bytes, m.Name())
		locations = append(locations, loc)
	}
	return locations, errors.Join(errs...)
}

// S3Options configures an S3Mirror. Credentials fall back to the default AWS
// chain (environment, shared config, instance role) when the keys are empty.
type S3Options struct {
	Bucket          string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string // S3-compatible endpoint; enables path-style addressing
	HTTPClient      *nethttp.Client
}

// S3Mirror uploads artifacts with PutObject.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Mirror loads AWS configuration and creates the S3 client.
func NewS3Mirror(ctx context.Context, opts S3Options) (*S3Mirror, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 mirror: s3_bucket is not set")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Mirror{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (m *S3Mirror) Name() string { return "s3" }

// Put uploads localPath to s3://bucket/prefix/key, retrying transient errors.
func (m *S3Mirror) Put(ctx context.Context, key, localPath string) (string, error) {
	objectKey := key
	if m.prefix != "" {
		objectKey = m.prefix + "/" + key
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	err = http.ExecuteWithRetry(ctx, http.DefaultConfig(), func() error {
		if _, seekErr := file.Seek(0, 0); seekErr != nil {
			return fmt.Errorf("failed to seek file: %w", seekErr)
		}
		_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(m.bucket),
			Key:           aws.String(objectKey),
			Body:          file,
			ContentLength: aws.Int64(info.Size()),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("s3 PutObject %s: %w", objectKey, err)
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, objectKey), nil
}

// AzureMirror uploads artifacts into one blob container addressed by a SAS URL.
type AzureMirror struct {
	client    *azblob.Client
	container string
	baseURL   string // container URL without the SAS query
}

// NewAzureMirror creates a mirror from a container SAS URL of the form
// https://<account>.blob.core.windows.net/<container>?<sas>.
func NewAzureMirror(containerSASURL string, httpClient *nethttp.Client) (*AzureMirror, error) {
	if containerSASURL == "" {
		return nil, fmt.Errorf("azure mirror: azure_container_url is not set")
	}
	u, err := url.Parse(containerSASURL)
	if err != nil {
		return nil, fmt.Errorf("azure mirror: invalid container URL: %w", err)
	}
	container := strings.Trim(u.Path, "/")
	if container == "" || strings.Contains(container, "/") {
		return nil, fmt.Errorf("azure mirror: URL must name exactly one container")
	}

	// The service client wants the account URL; the SAS query stays attached.
	serviceURL := fmt.Sprintf("%s://%s/?%s", u.Scheme, u.Host, u.RawQuery)

	var clientOpts *azblob.ClientOptions
	if httpClient != nil {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{Transport: httpClient},
		}
	}
	client, err := azblob.NewClientWithNoCredential(serviceURL, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &AzureMirror{
		client:    client,
		container: container,
		baseURL:   fmt.Sprintf("%s://%s/%s", u.Scheme, u.Host, container),
	}, nil
}

func (m *AzureMirror) Name() string { return "azure" }

// Put uploads localPath as block blob key.
func (m *AzureMirror) Put(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := m.client.UploadFile(ctx, m.container, key, file, nil); err != nil {
		return "", fmt.Errorf("azure upload %s: %w", key, err)
	}
	return m.baseURL + "/" + key, nil
}
