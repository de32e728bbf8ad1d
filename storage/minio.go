package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sunoman/config"
	"sunoman/logger"
)

var (
	minioClient *minio.Client
	bucket      string
)

// InitMinio 初始化 MinIO 客户端并确保归档桶存在。
// 未配置 endpoint 时归档功能整体关闭。
func InitMinio(cfg *config.Config) error {
	if cfg.MinioEndpoint == "" {
		logger.Info("未配置 MinIO，归档功能关闭")
		return nil
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	bucket = cfg.MinioBucket
	logger.Info("MinIO 连接成功", logger.String("bucket", bucket))
	return nil
}

// Enabled 归档是否可用
func Enabled() bool {
	return minioClient != nil
}

// ArchiveDir 把一个下载目录整体上传到归档桶，
// 对象键为 suno/<目录名>/<文件名>。上传失败只记日志不中断流水线。
func ArchiveDir(ctx context.Context, dir string) error {
	if minioClient == nil {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("读取归档目录失败: %w", err)
	}

	prefix := "suno/" + filepath.Base(dir) + "/"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		local := filepath.Join(dir, entry.Name())
		objectName := prefix + entry.Name()

		_, err := minioClient.FPutObject(ctx, bucket, objectName, local, minio.PutObjectOptions{
			ContentType: contentTypeFor(entry.Name()),
		})
		if err != nil {
			return fmt.Errorf("上传 %s 失败: %w", objectName, err)
		}
	}

	logger.Info("归档完成", logger.String("dir", dir), logger.Int("files", len(entries)))
	return nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
