// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// CMLMetadata 定义了 cml_metadata 表的 ORM 模型。
// 一条记录描述一条微波链路（link）的一个方向子链路（sublink）：
// 两端站点坐标、载波频率、极化方式和链路长度。
// 主键为 (link_id, sublink_id)，摄取管道对其执行幂等 upsert，永不删除。
type CMLMetadata struct {
	LinkID       string   `gorm:"column:link_id;type:varchar(64);primaryKey" json:"linkId"`
	SublinkID    string   `gorm:"column:sublink_id;type:varchar(64);primaryKey" json:"sublinkId"`
	Site0Lon     *float64 `gorm:"column:site_0_lon" json:"site0Lon"`
	Site0Lat     *float64 `gorm:"column:site_0_lat" json:"site0Lat"`
	Site1Lon     *float64 `gorm:"column:site_1_lon" json:"site1Lon"`
	Site1Lat     *float64 `gorm:"column:site_1_lat" json:"site1Lat"`
	Frequency    *float64 `gorm:"column:frequency" json:"frequency"`
	Polarization *string  `gorm:"column:polarization;type:varchar(16)" json:"polarization"`
	Length       *float64 `gorm:"column:length" json:"length"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (CMLMetadata) TableName() string {
	return "cml_metadata"
}

// CMLData 定义了 cml_data 表的 ORM 模型。
// 一条记录是一次观测：发送电平 tsl 与接收电平 rsl，两者均可为空。
// 该表只追加、不更新、不删除，按 time 建索引供时间范围查询。
type CMLData struct {
	Time      time.Time `gorm:"column:time;index;not null" json:"time"`
	LinkID    string    `gorm:"column:link_id;type:varchar(64);not null" json:"linkId"`
	SublinkID string    `gorm:"column:sublink_id;type:varchar(64);not null" json:"sublinkId"`
	RSL       *float64  `gorm:"column:rsl" json:"rsl"`
	TSL       *float64  `gorm:"column:tsl" json:"tsl"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (CMLData) TableName() string {
	return "cml_data"
}
