// Package mysql 将账本的有序键值存储落到 MySQL 单表 ledger_kv 上。
// 键以 VARBINARY 主键保存，范围扫描依赖 InnoDB 聚簇索引的字节序。
package mysql
