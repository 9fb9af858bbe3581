package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:       "localhost:9000",
		AccessKey:      "a",
		SecretKey:      "b",
		Region:         "us-east-1",
		BucketCaptures: "captures",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.BucketCaptures = " "
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank bucket")
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("LOOKOUT_MINIO_BUCKET_CAPTURES", "webcam-frames")
	t.Setenv("LOOKOUT_MINIO_USE_SSL", "true")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.BucketCaptures != "webcam-frames" || !cfg.UseSSL {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
