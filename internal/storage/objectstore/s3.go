// Пакет objectstore — S3-совместимое хранилище резервных копий.
// Используется bulk-операцией backup: байты артефакта выгружаются
// в бакет под ключом backups/{uploadedBy}/{id}/{storedName}.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config — параметры подключения к S3.
type Config struct {
	// Endpoint — пустой для AWS, URL для MinIO и аналогов
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store — выгрузка резервных копий в S3.
type S3Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
	logger   *slog.Logger
}

// New создаёт клиент S3. Сетевых запросов не выполняет.
func New(cfg Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("не задан бакет резервных копий")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO не поддерживает virtual-hosted style
		})
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &S3Store{
		bucket:   cfg.Bucket,
		client:   client,
		uploader: manager.NewUploader(client),
		logger:   logger.With(slog.String("component", "objectstore")),
	}, nil
}

// Upload выгружает содержимое reader под ключом key.
// Возвращает location объекта.
func (s *S3Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	result, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("ошибка выгрузки %s в S3: %w", key, err)
	}

	s.logger.Debug("Резервная копия выгружена",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
	)
	return result.Location, nil
}

// Ping проверяет доступность бакета.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("бакет %s недоступен: %w", s.bucket, err)
	}
	return nil
}

// Bucket возвращает имя бакета.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// BackupKey формирует ключ резервной копии.
func BackupKey(uploadedBy, fileID, storedName string) string {
	owner := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, uploadedBy)
	if owner == "" {
		owner = "unknown"
	}
	return path.Join("backups", owner, fileID, storedName)
}
