package pg

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository webhook 入库所需的最小持久化能力
type Repository struct {
	Pool *pgxpool.Pool
}

// Sensor 传感器注册表记录
type Sensor struct {
	ID         string
	OrgID      string
	SiteID     *string
	UnitID     *string
	Name       string
	DevEUI     string
	SensorType string
	Disabled   bool
}

// Application TTN application_id 到组织的映射及其 webhook 密钥
type Application struct {
	ApplicationID string
	OrgID         string
	WebhookSecret string
}

// UplinkRecord 原始上行历史；OrgID 为空表示未分配
type UplinkRecord struct {
	ID            int64
	DevEUI        string
	OrgID         *string
	SensorID      *string
	ApplicationID string
	FPort         *int
	FCnt          *int64
	RSSI          *float64
	SNR           *float64
	Resolution    string
	Source        string
	Payload       []byte
	ReceivedAt    time.Time
	CreatedAt     time.Time
}

// SensorState 当前状态；nil 字段保留库中原值
type SensorState struct {
	DevEUI      string
	OrgID       string
	SensorID    *string
	Temperature *float64
	Humidity    *float64
	DoorState   *string
	Battery     *float64
	RSSI        *float64
	SNR         *float64
	FPort       int
	LastSeen    time.Time
}

// Reading 旧版读数
type Reading struct {
	DevEUI      string
	OrgID       string
	SensorID    *string
	Temperature *float64
	Humidity    *float64
	Battery     *float64
	RSSI        *float64
	RecordedAt  time.Time
}

// DoorEvent 门磁事件
type DoorEvent struct {
	DevEUI     string
	OrgID      string
	SensorID   *string
	State      string
	RecordedAt time.Time
}

// SensorByEUI 按 EUI 查找未禁用的传感器（若无返回 nil, nil）
func (r *Repository) SensorByEUI(ctx context.Context, devEUI string) (*Sensor, error) {
	const q = `SELECT id, org_id, site_id, unit_id, name, dev_eui, sensor_type, disabled
		FROM sensors WHERE lower(dev_eui)=$1 AND NOT disabled
		ORDER BY updated_at DESC LIMIT 1`
	var s Sensor
	err := r.Pool.QueryRow(ctx, q, strings.ToLower(devEUI)).Scan(
		&s.ID, &s.OrgID, &s.SiteID, &s.UnitID, &s.Name, &s.DevEUI, &s.SensorType, &s.Disabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpsertSensor 插入或更新传感器
func (r *Repository) UpsertSensor(ctx context.Context, s *Sensor) error {
	const q = `INSERT INTO sensors (id, org_id, site_id, unit_id, name, dev_eui, sensor_type, disabled, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		ON CONFLICT (id) DO UPDATE SET org_id=EXCLUDED.org_id, site_id=EXCLUDED.site_id, unit_id=EXCLUDED.unit_id,
			name=EXCLUDED.name, dev_eui=EXCLUDED.dev_eui, sensor_type=EXCLUDED.sensor_type,
			disabled=EXCLUDED.disabled, updated_at=NOW()`
	_, err := r.Pool.Exec(ctx, q, s.ID, s.OrgID, s.SiteID, s.UnitID, s.Name, strings.ToLower(s.DevEUI), s.SensorType, s.Disabled)
	return err
}

// ApplicationByID 解析 application_id 对应的组织（若无返回 nil, nil）
func (r *Repository) ApplicationByID(ctx context.Context, applicationID string) (*Application, error) {
	const q = `SELECT application_id, org_id, COALESCE(webhook_secret, '')
		FROM ttn_connections WHERE application_id=$1 AND enabled
		ORDER BY updated_at DESC LIMIT 1`
	var a Application
	err := r.Pool.QueryRow(ctx, q, applicationID).Scan(&a.ApplicationID, &a.OrgID, &a.WebhookSecret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// InsertUplink 写入原始上行历史，返回记录ID
func (r *Repository) InsertUplink(ctx context.Context, u *UplinkRecord) (int64, error) {
	const q = `INSERT INTO uplink_history (dev_eui, org_id, sensor_id, application_id, f_port, f_cnt, rssi, snr,
			resolution, source, payload, received_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`
	var id int64
	err := r.Pool.QueryRow(ctx, q, u.DevEUI, u.OrgID, u.SensorID, u.ApplicationID, u.FPort, u.FCnt,
		u.RSSI, u.SNR, u.Resolution, u.Source, u.Payload, u.ReceivedAt).Scan(&id)
	return id, err
}

// UnassignedUplinks 列出等待人工分配的上行
func (r *Repository) UnassignedUplinks(ctx context.Context, limit int) ([]UplinkRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `SELECT id, dev_eui, COALESCE(application_id, ''), f_port, f_cnt, rssi, snr, resolution, source,
			payload, received_at, created_at
		FROM uplink_history WHERE org_id IS NULL ORDER BY created_at DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UplinkRecord
	for rows.Next() {
		var u UplinkRecord
		if err := rows.Scan(&u.ID, &u.DevEUI, &u.ApplicationID, &u.FPort, &u.FCnt, &u.RSSI, &u.SNR,
			&u.Resolution, &u.Source, &u.Payload, &u.ReceivedAt, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertSensorState 更新当前状态；未携带的字段保留旧值
func (r *Repository) UpsertSensorState(ctx context.Context, s *SensorState) error {
	const q = `INSERT INTO sensor_state (dev_eui, org_id, sensor_id, temperature, humidity, door_state, battery, rssi, snr,
			last_f_port, last_seen, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (dev_eui) DO UPDATE SET
			org_id=EXCLUDED.org_id,
			sensor_id=COALESCE(EXCLUDED.sensor_id, sensor_state.sensor_id),
			temperature=COALESCE(EXCLUDED.temperature, sensor_state.temperature),
			humidity=COALESCE(EXCLUDED.humidity, sensor_state.humidity),
			door_state=COALESCE(EXCLUDED.door_state, sensor_state.door_state),
			battery=COALESCE(EXCLUDED.battery, sensor_state.battery),
			rssi=COALESCE(EXCLUDED.rssi, sensor_state.rssi),
			snr=COALESCE(EXCLUDED.snr, sensor_state.snr),
			last_f_port=EXCLUDED.last_f_port,
			last_seen=EXCLUDED.last_seen,
			updated_at=NOW()`
	_, err := r.Pool.Exec(ctx, q, s.DevEUI, s.OrgID, s.SensorID, s.Temperature, s.Humidity, s.DoorState,
		s.Battery, s.RSSI, s.SNR, s.FPort, s.LastSeen)
	return err
}

// GetSensorState 读取当前状态（若无返回 nil, nil）
func (r *Repository) GetSensorState(ctx context.Context, devEUI string) (*SensorState, error) {
	const q = `SELECT dev_eui, org_id, sensor_id, temperature, humidity, door_state, battery, rssi, snr,
			COALESCE(last_f_port, 0), last_seen
		FROM sensor_state WHERE dev_eui=$1`
	var s SensorState
	err := r.Pool.QueryRow(ctx, q, devEUI).Scan(&s.DevEUI, &s.OrgID, &s.SensorID, &s.Temperature, &s.Humidity,
		&s.DoorState, &s.Battery, &s.RSSI, &s.SNR, &s.FPort, &s.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// InsertReading 写入旧版读数表
func (r *Repository) InsertReading(ctx context.Context, rd *Reading) error {
	const q = `INSERT INTO sensor_readings (dev_eui, org_id, sensor_id, temperature, humidity, battery, rssi, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, rd.DevEUI, rd.OrgID, rd.SensorID, rd.Temperature, rd.Humidity, rd.Battery, rd.RSSI, rd.RecordedAt)
	return err
}

// InsertDoorEvent 写入门磁事件
func (r *Repository) InsertDoorEvent(ctx context.Context, ev *DoorEvent) error {
	const q = `INSERT INTO door_events (dev_eui, org_id, sensor_id, state, recorded_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, ev.DevEUI, ev.OrgID, ev.SensorID, ev.State, ev.RecordedAt)
	return err
}
