// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package model fetches and verifies the inference model blob. The fetch is
// resumable and deliberately chunked: each call transfers at most one range,
// so a contract round never exceeds its budget waiting on the network.
package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrHashMismatch    = errors.New("model hash mismatch")
	ErrManifestInvalid = errors.New("invalid model manifest")
)

// Manifest describes the expected model artifact.
type Manifest struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
	SourceURL string `json:"source_url"`
	ChunkSize int64  `json:"chunk_size"`
}

func (m Manifest) verify() error {
	switch {
	case m.Name == "", m.SourceURL == "":
		return ErrManifestInvalid
	case m.Size <= 0, m.ChunkSize <= 0:
		return ErrManifestInvalid
	case len(m.SHA256) != sha256.Size*2:
		return ErrManifestInvalid
	}
	return nil
}

// StatusKind classifies an EnsureAvailable outcome.
type StatusKind int

const (
	// Complete means the blob is fully present and hash-verified.
	Complete StatusKind = iota
	// Partial means more rounds are needed; Progress carries the fraction
	// fetched so far.
	Partial
	// Failed means the artifact is unusable and was deleted.
	Failed
)

// Status is the outcome of one provisioning attempt.
type Status struct {
	Kind     StatusKind
	Progress float64
	Reason   string
}

// Provisioner downloads the model blob one chunk per call.
type Provisioner struct {
	dir      string
	client   *http.Client
	log      log.Logger
	progress prometheus.Gauge
}

// NewProvisioner creates a provisioner writing under dir.
func NewProvisioner(dir string, logger log.Logger, reg prometheus.Registerer) (*Provisioner, error) {
	progress := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "model_download_progress",
		Help: "Fraction of the model blob fetched so far",
	})
	if err := reg.Register(progress); err != nil {
		return nil, fmt.Errorf("failed to register progress gauge: %w", err)
	}
	return &Provisioner{
		dir:      dir,
		client:   http.DefaultClient,
		log:      logger,
		progress: progress,
	}, nil
}

// Path returns where the artifact lives on disk.
func (p *Provisioner) Path(m Manifest) string {
	return filepath.Join(p.dir, m.Name)
}

func (p *Provisioner) sentinelPath(m Manifest) string {
	return p.Path(m) + ".verified"
}

// Progress reports the locally fetched fraction without touching the
// network.
func (p *Provisioner) Progress(m Manifest) float64 {
	info, err := os.Stat(p.Path(m))
	if err != nil || m.Size <= 0 {
		return 0
	}
	if info.Size() >= m.Size {
		return 1
	}
	return float64(info.Size()) / float64(m.Size)
}

// EnsureAvailable advances the artifact toward Complete by at most one
// ranged GET. Transient network errors leave the partial file intact and
// report Partial; a hash mismatch deletes the artifact and reports Failed.
func (p *Provisioner) EnsureAvailable(ctx context.Context, m Manifest) Status {
	if err := m.verify(); err != nil {
		return Status{Kind: Failed, Reason: err.Error()}
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return Status{Kind: Failed, Reason: err.Error()}
	}

	path := p.Path(m)
	current := int64(0)
	if info, err := os.Stat(path); err == nil {
		current = info.Size()
	}

	if current > m.Size {
		p.log.Warn("model artifact larger than manifest, discarding",
			"path", path,
			"size", current,
			"expected", m.Size,
		)
		p.discard(m)
		return Status{Kind: Failed, Reason: "artifact exceeds expected size"}
	}

	if current == m.Size {
		return p.finalize(m)
	}

	fetched, err := p.fetchChunk(ctx, m, current)
	if err != nil {
		p.log.Warn("model chunk fetch failed",
			"url", m.SourceURL,
			"offset", current,
			"error", err,
		)
		return p.partial(m, current)
	}
	current += fetched

	if current < m.Size {
		return p.partial(m, current)
	}
	return p.finalize(m)
}

func (p *Provisioner) partial(m Manifest, current int64) Status {
	progress := float64(current) / float64(m.Size)
	p.progress.Set(progress)
	return Status{Kind: Partial, Progress: progress}
}

// fetchChunk appends one Range request's worth of bytes to the artifact.
func (p *Provisioner) fetchChunk(ctx context.Context, m Manifest, offset int64) (int64, error) {
	end := offset + m.ChunkSize - 1
	if end >= m.Size {
		end = m.Size - 1
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.SourceURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.OpenFile(p.Path(m), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	// Cap the copy so a misbehaving server answering 200 with the whole
	// body still only advances one chunk.
	n, err := io.Copy(f, io.LimitReader(resp.Body, end-offset+1))
	if n > 0 {
		p.log.Debug("model chunk appended",
			"offset", offset,
			"bytes", n,
		)
		return n, nil
	}
	return n, err
}

// finalize hash-checks a size-complete artifact. The check is skipped once a
// sentinel records a prior success.
func (p *Provisioner) finalize(m Manifest) Status {
	if _, err := os.Stat(p.sentinelPath(m)); err == nil {
		p.progress.Set(1)
		return Status{Kind: Complete, Progress: 1}
	}

	sum, err := fileSHA256(p.Path(m))
	if err != nil {
		return Status{Kind: Failed, Reason: err.Error()}
	}
	if sum != m.SHA256 {
		p.log.Error("model hash mismatch, discarding artifact",
			"path", p.Path(m),
			"got", sum,
			"want", m.SHA256,
		)
		p.discard(m)
		return Status{Kind: Failed, Reason: ErrHashMismatch.Error()}
	}

	if err := os.WriteFile(p.sentinelPath(m), []byte(sum+"\n"), 0o644); err != nil {
		p.log.Warn("failed to write verification sentinel", "error", err)
	}
	p.progress.Set(1)
	p.log.Info("model artifact verified",
		"path", p.Path(m),
		"size", m.Size,
	)
	return Status{Kind: Complete, Progress: 1}
}

func (p *Provisioner) discard(m Manifest) {
	_ = os.Remove(p.Path(m))
	_ = os.Remove(p.sentinelPath(m))
	p.progress.Set(0)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
