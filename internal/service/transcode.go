package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/reprefix/internal/core/checksum"
	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/deb"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/state"
)

// cacheKeyLen is the number of hex digits of the cache key kept in names
const cacheKeyLen = 16

var transcodeStatus = map[deb.Outcome]state.Status{
	deb.OutcomeRewritten: state.StatusSuccess,
	deb.OutcomeNoop:      state.StatusNoop,
	deb.OutcomeFallback:  state.StatusFallback,
}

func (s *Service) transcoder(log logger.Logger) *deb.Transcoder {
	// Validate 已檢查過壓縮設定
	kind, _ := s.config.TranscodeCompression()
	return &deb.Transcoder{
		Rule:        s.rule,
		ScratchDir:  s.config.Transcode.CacheDir,
		OutputDir:   s.config.Transcode.CacheDir,
		Compression: kind,
		Classifier:  s.classifier,
		Log:         log,
		Metrics:     s.metrics,
	}
}

// MaybeRewritePackageArchive returns the package archive the package
// manager should install instead of archivePath. It never fails: when the
// archive needs no rewrite, or rewriting fails, archivePath is returned.
func (s *Service) MaybeRewritePackageArchive(ctx context.Context, archivePath string) string {
	return s.Transcode(ctx, archivePath).Output
}

// Transcode is MaybeRewritePackageArchive with the outcome reported.
// Outputs are cached under a key derived from the archive content, the
// rule and the compression setting.
func (s *Service) Transcode(ctx context.Context, archivePath string) deb.Result {
	op, rec := s.begin(logger.KindTranscode, archivePath)

	if err := ensureDir(s.config.Transcode.CacheDir); err != nil {
		op.Warn("failed to create transcode cache", "path", s.config.Transcode.CacheDir, "error", err)
	}

	tr := s.transcoder(op)
	key, err := cacheKey(archivePath, s.rule, s.config.Transcode.Compression)
	if err != nil {
		// 讀不到輸入時交給 transcoder 回報 fallback，不使用快取
		op.Debug("transcode cache disabled for input", "error", err)
	} else {
		if cached, ok := s.cached(archivePath, key); ok {
			op.Info("transcode outcome", "outcome", deb.OutcomeRewritten, "output", cached, "cached", true)
			s.finish(ctx, op, rec, state.StatusSuccess, "cached output="+cached, nil)
			return deb.Result{Input: archivePath, Output: cached, Outcome: deb.OutcomeRewritten}
		}
		tr.Name = func(in string) string { return cacheName(in, key) }
	}
	res := tr.Transcode(ctx, archivePath)

	detail := ""
	if res.Outcome == deb.OutcomeRewritten {
		detail = "output=" + res.Output
	}
	s.finish(ctx, op, rec, transcodeStatus[res.Outcome], detail, res.Err)
	return res
}

// cacheKey digests everything that decides the transcoded bytes
func cacheKey(archivePath string, rule rewrite.Rule, compression string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := checksum.NewHash(checksum.BLAKE3)
	if err != nil {
		return "", err
	}
	io.WriteString(h, rule.Source()+"\x00"+rule.Target()+"\x00"+compression+"\x00")
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return checksum.Sum(h)[:cacheKeyLen], nil
}

// cacheName maps "foo_1.0_aarch64.deb" to "foo_1.0_aarch64-<key>.reprefix.deb"
func cacheName(input, key string) string {
	return strings.TrimSuffix(deb.OutputName(input), deb.OutputSuffix) + "-" + key + deb.OutputSuffix
}

// cached returns an earlier rewrite of the same archive content
func (s *Service) cached(archivePath, key string) (string, bool) {
	dir := s.config.Transcode.CacheDir
	if dir == "" {
		return "", false
	}
	out := filepath.Join(dir, cacheName(archivePath, key))
	if filepath.Clean(out) == filepath.Clean(archivePath) {
		return "", false
	}
	info, err := os.Stat(out)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return out, true
}
