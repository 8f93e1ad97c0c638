package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
)

const DefaultProfile = "default"

var ErrProfileNotFound = errors.New("aws profile not found")

type S3Config struct {
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
	Profile    string `mapstructure:"profile"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Endpoint   string `mapstructure:"bucket_endpoint"`
}

func (c *S3Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("bucket_name required")
	}
	if c.Region == "" {
		return fmt.Errorf("region required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("access_key and secret_key must be set together")
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid bucket_endpoint %q", c.Endpoint)
		}
	}
	return nil
}

// UsesStaticCredentials reports whether the access key pair overrides the profile.
func (c *S3Config) UsesStaticCredentials() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// ValidateProfile checks that a named profile exists in the shared AWS config
// or credentials files. The default profile is not checked so that the SDK's
// default chain (env vars, instance roles) keeps working without ~/.aws.
func (c *S3Config) ValidateProfile(ctx context.Context) error {
	if c.UsesStaticCredentials() || c.Profile == "" || c.Profile == DefaultProfile {
		return nil
	}

	_, err := config.LoadSharedConfigProfile(ctx, c.Profile, func(o *config.LoadSharedConfigOptions) {
		o.ConfigFiles = sharedFiles("AWS_CONFIG_FILE", config.DefaultSharedConfigFiles)
		o.CredentialsFiles = sharedFiles("AWS_SHARED_CREDENTIALS_FILE", config.DefaultSharedCredentialsFiles)
	})
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrProfileNotFound, c.Profile, err)
	}
	return nil
}

func sharedFiles(envKey string, defaults []string) []string {
	if p := os.Getenv(envKey); p != "" {
		return []string{p}
	}
	return defaults
}
