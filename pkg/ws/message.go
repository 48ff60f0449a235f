package ws

import (
	"encoding/json"
	"time"
)

// 数据消息在房间内原样转发，网关不解析也不修改内容。
// 只有控制指示（丢弃通告）使用网关自己的 JSON 信封，
// 与数据消息通过固定的 type 字段区分。

// controlTypeDropped 丢弃通告控制类型
const controlTypeDropped = "uchat.dropped"

// DroppedNotice 丢弃通告
//
// 消费端落后于扇出缓冲窗口时，被挤出的消息以一条
// 控制指示的形式告知客户端，而不是静默丢失。
type DroppedNotice struct {
	Type      string `json:"type"`
	Dropped   int64  `json:"dropped"`   // 被挤出的消息条数
	Timestamp int64  `json:"timestamp"` // Unix 秒
}

// newDroppedNotice 编码一条丢弃通告
func newDroppedNotice(dropped int64) []byte {
	data, _ := json.Marshal(DroppedNotice{
		Type:      controlTypeDropped,
		Dropped:   dropped,
		Timestamp: time.Now().Unix(),
	})
	return data
}
