package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9222 {
		t.Fatalf("CDPPort = %d, want 9222", cfg.CDPPort)
	}
	if got, want := cfg.CDPURL(), "http://127.0.0.1:9222"; got != want {
		t.Fatalf("CDPURL() = %q, want %q", got, want)
	}
	if len(cfg.PortCandidates) == 0 {
		t.Fatalf("PortCandidates is empty")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUDITD_CDP_PORT", "9333")
	t.Setenv("AUDITD_PORT_CANDIDATES", "9000, 9001")
	t.Setenv("AUDITD_EVAL_TIMEOUT_MS", "10")
	t.Setenv("AUDITD_BLOB_JPEG_QUALITY", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9333 {
		t.Fatalf("CDPPort = %d, want 9333", cfg.CDPPort)
	}
	if len(cfg.PortCandidates) != 2 || cfg.PortCandidates[0] != 9000 || cfg.PortCandidates[1] != 9001 {
		t.Fatalf("PortCandidates = %v, want [9000 9001]", cfg.PortCandidates)
	}
	if cfg.EvalTimeoutMS != 1000 {
		t.Fatalf("EvalTimeoutMS = %d, want clamped 1000", cfg.EvalTimeoutMS)
	}
	if cfg.BlobJPEGQuality != 80 {
		t.Fatalf("BlobJPEGQuality = %d, want fallback 80", cfg.BlobJPEGQuality)
	}
}

func TestBadPortCandidateListFallsBack(t *testing.T) {
	t.Setenv("AUDITD_PORT_CANDIDATES", "9000,oops")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.PortCandidates) != 3 {
		t.Fatalf("PortCandidates = %v, want defaults", cfg.PortCandidates)
	}
}
