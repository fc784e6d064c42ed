// Package redis 将账本的有序键值存储映射到 Redis。
// 值保存在 HASH 中，键同时写入分值为 0 的 ZSET，范围扫描通过 ZRANGEBYLEX 完成。
package redis
