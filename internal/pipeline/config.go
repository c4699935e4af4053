package pipeline

import (
	"errors"
	"fmt"
	"time"

	"workpipe/internal/queue"
	"workpipe/internal/transform"
	"workpipe/internal/worker"
)

// ErrInvalidConfig は設定が不正な場合に返される
var ErrInvalidConfig = errors.New("invalid pipeline configuration")

// Config はパイプラインの設定
type Config struct {
	Name        string // 実行名
	Description string // 説明

	MaxItems  int    // 生成するアイテム数
	Workers   int    // ワーカー数
	Transform string // 変換関数名

	// キュー設定
	QueueKind     queue.Kind // mem / chan
	QueueCapacity int        // chan キューの容量（0で MaxItems）

	// 待機設定
	Wait       worker.WaitStrategy // notify / backoff
	MaxBackoff time.Duration       // バックオフ最大間隔

	// プロデューサー設定
	ProduceRate  float64       // 秒間投入数（0で無制限）
	ProduceBurst int           // バースト数
	FinishDelay  time.Duration // 最後の投入から Done までの待機
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:        "default",
		Description: "250 items drained by 4 workers",
		MaxItems:    250,
		Workers:     4,
		Transform:   transform.DefaultName,
		QueueKind:   queue.KindMem,
		Wait:        worker.WaitNotify,
		MaxBackoff:  50 * time.Millisecond,
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.MaxItems < 0 {
		return fmt.Errorf("%w: max_items must be non-negative, got %d", ErrInvalidConfig, c.MaxItems)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: worker_count must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if _, err := transform.Lookup(c.Transform); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := queue.ParseKind(string(c.QueueKind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("%w: queue capacity must be non-negative, got %d", ErrInvalidConfig, c.QueueCapacity)
	}
	if _, err := worker.ParseWaitStrategy(string(c.Wait)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.MaxBackoff < 0 {
		return fmt.Errorf("%w: max_backoff must be non-negative", ErrInvalidConfig)
	}
	if c.ProduceRate < 0 || c.ProduceBurst < 0 {
		return fmt.Errorf("%w: producer rate and burst must be non-negative", ErrInvalidConfig)
	}
	if c.FinishDelay < 0 {
		return fmt.Errorf("%w: finish_delay must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// queueCapacity は chan キューの容量を返す
func (c Config) queueCapacity() int {
	if c.QueueCapacity > 0 {
		return c.QueueCapacity
	}
	if c.MaxItems > 0 {
		return c.MaxItems
	}
	return 1
}
