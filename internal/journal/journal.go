package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"invoker/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/journal.db"

	// 存储桶名称
	EntriesBucket = "entries"
	HashBucket    = "hashes"
	StatsBucket   = "stats"

	// 统计键
	TotalSendsKey   = "total_sends"
	TotalDeploysKey = "total_deploys"
)

// Entry 交易日志条目
type Entry struct {
	Seq uint64 `json:"seq"`
	*models.InvocationEvent
}

// Journal 基于 bbolt 的交易日志，按写入顺序编号，可按交易哈希查找
type Journal struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
}

// Open 打开交易日志
func Open(dbPath string, logger *logrus.Logger) (*Journal, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开交易日志失败: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger,
		dbPath: dbPath,
	}

	if err := j.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化交易日志失败: %w", err)
	}

	logger.Infof("交易日志已打开，数据库路径: %s", dbPath)
	return j, nil
}

// initDB 初始化存储桶
func (j *Journal) initDB() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{EntriesBucket, HashBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// Record 写入事件，返回分配的序号。同一交易哈希只记录一次
func (j *Journal) Record(event *models.InvocationEvent) (uint64, error) {
	var seq uint64
	err := j.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket([]byte(EntriesBucket))
		hashes := tx.Bucket([]byte(HashBucket))
		stats := tx.Bucket([]byte(StatsBucket))

		if existing := hashes.Get([]byte(event.Hash)); existing != nil {
			seq = binary.BigEndian.Uint64(existing)
			return nil
		}

		next, err := entries.NextSequence()
		if err != nil {
			return err
		}
		seq = next

		data, err := json.Marshal(&Entry{Seq: seq, InvocationEvent: event})
		if err != nil {
			return fmt.Errorf("序列化事件失败: %w", err)
		}

		key := itob(seq)
		if err := entries.Put(key, data); err != nil {
			return fmt.Errorf("保存事件失败: %w", err)
		}
		if err := hashes.Put([]byte(event.Hash), key); err != nil {
			return fmt.Errorf("保存哈希索引失败: %w", err)
		}

		statKey := TotalSendsKey
		if event.Kind == models.EventKindDeploy {
			statKey = TotalDeploysKey
		}
		return increment(stats, statKey)
	})
	if err != nil {
		return 0, err
	}

	j.logger.Debugf("交易 %s 已记录，序号 %d", event.Hash, seq)
	return seq, nil
}

// Get 按交易哈希查找
func (j *Journal) Get(hash string) (*Entry, bool, error) {
	var entry *Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(HashBucket)).Get([]byte(hash))
		if key == nil {
			return nil
		}
		data := tx.Bucket([]byte(EntriesBucket)).Get(key)
		if data == nil {
			return fmt.Errorf("哈希索引指向不存在的条目: %s", hash)
		}
		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, false, err
	}
	return entry, entry != nil, nil
}

// List 从最新开始列出最多 limit 条，limit <= 0 表示全部
func (j *Journal) List(limit int) ([]*Entry, error) {
	var entries []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(EntriesBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			entry := &Entry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return fmt.Errorf("解析条目 %d 失败: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// GetStats 获取统计信息
func (j *Journal) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"db_path": j.dbPath,
	}
	_ = j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(StatsBucket))
		stats[TotalSendsKey] = counter(bucket, TotalSendsKey)
		stats[TotalDeploysKey] = counter(bucket, TotalDeploysKey)
		stats["entries"] = tx.Bucket([]byte(EntriesBucket)).Stats().KeyN
		return nil
	})
	return stats
}

// Reset 清空交易日志
func (j *Journal) Reset() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{EntriesBucket, HashBucket, StatsBucket} {
			if tx.Bucket([]byte(name)) != nil {
				if err := tx.DeleteBucket([]byte(name)); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDBPath 获取数据库路径
func (j *Journal) GetDBPath() string {
	return j.dbPath
}

// Close 关闭交易日志
func (j *Journal) Close() error {
	if j.db != nil {
		j.logger.Info("关闭交易日志")
		return j.db.Close()
	}
	return nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func increment(bucket *bolt.Bucket, key string) error {
	return bucket.Put([]byte(key), itob(counter(bucket, key)+1))
}

func counter(bucket *bolt.Bucket, key string) uint64 {
	if data := bucket.Get([]byte(key)); len(data) == 8 {
		return binary.BigEndian.Uint64(data)
	}
	return 0
}
