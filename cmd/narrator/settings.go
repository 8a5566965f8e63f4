package main

import (
	"github.com/spf13/viper"

	"github.com/drblury/narrator/internal/objectstore"
)

const (
	keyKokoroURL         = "kokoro.url"
	keyS3Bucket          = "s3.bucket"
	keyS3Region          = "s3.region"
	keyS3Endpoint        = "s3.endpoint"
	keyS3PathStyle       = "s3.path_style"
	keyS3AccessKeyID     = "s3.access_key_id"
	keyS3SecretAccessKey = "s3.secret_access_key"
)

var workerEnvBindings = map[string]string{
	keyKokoroURL:         "NARRATOR_KOKORO_URL",
	keyS3Bucket:          "S3_BUCKET",
	keyS3Region:          "S3_REGION",
	keyS3Endpoint:        "S3_ENDPOINT",
	keyS3PathStyle:       "S3_PATH_STYLE",
	keyS3AccessKeyID:     "S3_ACCESS_KEY_ID",
	keyS3SecretAccessKey: "S3_SECRET_ACCESS_KEY",
}

const defaultKokoroURL = "http://localhost:8880"

func bindWorkerEnv(v *viper.Viper) error {
	for key, env := range workerEnvBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	v.SetDefault(keyKokoroURL, defaultKokoroURL)
	return nil
}

func objectStoreConfig(v *viper.Viper) objectstore.Config {
	return objectstore.Config{
		Bucket:          v.GetString(keyS3Bucket),
		Region:          v.GetString(keyS3Region),
		Endpoint:        v.GetString(keyS3Endpoint),
		UsePathStyle:    v.GetBool(keyS3PathStyle),
		AccessKeyID:     v.GetString(keyS3AccessKeyID),
		SecretAccessKey: v.GetString(keyS3SecretAccessKey),
	}
}
