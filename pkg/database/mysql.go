package database

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
)

// OpenMySQL 打开 MySQL 连接，配置连接池并迁移同步元数据表。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.SyncMetadata{}); err != nil {
		return nil, err
	}

	log.Info("MySQL database connected successfully")
	return db, nil
}

// PingMySQL 用于就绪检查。
func PingMySQL(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
