package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jar-trace/jar-trace-go/internal/config"
	"github.com/jar-trace/jar-trace-go/internal/domain"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化会话数据库连接
// 会话登记表持久化到这里，使 taint 和 extract 可以在
// 不同的进程调用中共享同一会话
func InitDB(cfg *config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector

	if cfg.Type == "mysql" {
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		dialector = mysql.Open(dsn)
	} else {
		// SQLite（默认）：单文件边车库，按会话 id 组织
		path := cfg.Path
		if path == "" {
			path = "./data/sessions.db"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 关闭 SQL 日志
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		PrepareStmt: true, // 预编译 SQL
	})
	if err != nil {
		return nil, err
	}

	if err := autoMigrate(db, log); err != nil {
		return nil, err
	}

	return db, nil
}

// autoMigrate 自动迁移数据库表结构
func autoMigrate(db *gorm.DB, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	err := db.AutoMigrate(
		&domain.TraceSession{},
		&domain.ClassRecord{},
		&domain.FieldRecord{},
		&domain.MethodRecord{},
	)
	if err != nil {
		return err
	}

	log.Info("Database migrations completed")
	return nil
}
