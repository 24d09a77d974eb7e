package config

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// ArtifactRecord contract_artifacts 表中的一行
type ArtifactRecord struct {
	Name     string
	Address  string // 未部署时为空
	ABI      string
	Bytecode string // 十六进制，可为空
}

// DatabaseConfig 数据库配置源
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 连接 Postgres
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return NewDatabaseConfigFromDB(db, logger), nil
}

// NewDatabaseConfigFromDB 使用已有连接
func NewDatabaseConfigFromDB(db *sql.DB, logger *logrus.Logger) *DatabaseConfig {
	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}
}

// LoadNodes 加载启用的节点
func (dc *DatabaseConfig) LoadNodes() ([]*NodeConfig, error) {
	query := `SELECT name, url, node_type, rate_limit, priority FROM blockchain_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		if err := rows.Scan(&node.Name, &node.URL, &node.Type, &node.RateLimit, &node.Priority); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// LoadArtifacts 加载启用的合约制品
func (dc *DatabaseConfig) LoadArtifacts(ctx context.Context) ([]*ArtifactRecord, error) {
	query := `SELECT name, COALESCE(address, ''), abi, COALESCE(bytecode, '') FROM contract_artifacts WHERE is_active = true ORDER BY name`
	rows, err := dc.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询合约制品失败: %w", err)
	}
	defer rows.Close()

	var records []*ArtifactRecord
	for rows.Next() {
		var record ArtifactRecord
		if err := rows.Scan(&record.Name, &record.Address, &record.ABI, &record.Bytecode); err != nil {
			return nil, fmt.Errorf("读取合约制品失败: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dc.logger.Debugf("从数据库加载了 %d 个合约制品", len(records))
	return records, nil
}

// SaveArtifact 写入或更新合约制品，部署成功后用于记录地址
func (dc *DatabaseConfig) SaveArtifact(ctx context.Context, record *ArtifactRecord) error {
	query := `
		INSERT INTO contract_artifacts (name, address, abi, bytecode, is_active, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), true, CURRENT_TIMESTAMP)
		ON CONFLICT (name)
		DO UPDATE SET address = NULLIF($2, ''), abi = $3, bytecode = NULLIF($4, ''), is_active = true, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := dc.DB.ExecContext(ctx, query, record.Name, record.Address, record.ABI, record.Bytecode); err != nil {
		return fmt.Errorf("保存合约制品 %s 失败: %w", record.Name, err)
	}
	return nil
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
