package pipeline

import (
	"sort"
	"time"

	"workpipe/internal/queue"
	"workpipe/internal/worker"
)

// QuickPreset は動作確認用の最小構成を返す
func QuickPreset() Config {
	cfg := DefaultConfig()
	cfg.Name = "quick"
	cfg.Description = "5 items drained by 2 workers"
	cfg.MaxItems = 5
	cfg.Workers = 2
	return cfg
}

// WidePreset はワーカー数の多い構成を返す
func WidePreset() Config {
	cfg := DefaultConfig()
	cfg.Name = "wide"
	cfg.Description = "250 items drained by 16 workers"
	cfg.Workers = 16
	return cfg
}

// StressPreset は高負荷構成を返す
func StressPreset() Config {
	cfg := DefaultConfig()
	cfg.Name = "stress"
	cfg.Description = "100000 items drained by 16 workers"
	cfg.MaxItems = 100000
	cfg.Workers = 16
	return cfg
}

// ThrottledPreset は投入速度を制限し、バックオフで待機する構成を返す
func ThrottledPreset() Config {
	cfg := DefaultConfig()
	cfg.Name = "throttled"
	cfg.Description = "rate-limited producer on a bounded queue, workers poll with backoff"
	cfg.MaxItems = 50
	cfg.Workers = 4
	cfg.QueueKind = queue.KindChan
	cfg.Wait = worker.WaitBackoff
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.ProduceRate = 200
	cfg.ProduceBurst = 10
	return cfg
}

var presets = map[string]func() Config{
	"quick":     QuickPreset,
	"default":   DefaultConfig,
	"wide":      WidePreset,
	"stress":    StressPreset,
	"throttled": ThrottledPreset,
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Config, bool) {
	fn, ok := presets[name]
	if !ok {
		return Config{}, false
	}
	return fn(), true
}

// ListPresets はプリセット名の一覧を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
