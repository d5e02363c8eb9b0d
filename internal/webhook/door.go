package webhook

import "strings"

// DoorState 门磁状态
type DoorState string

const (
	DoorOpen    DoorState = "open"
	DoorClosed  DoorState = "closed"
	DoorUnknown DoorState = "unknown"
)

// NormalizeDoor 布尔或字符串编码统一为 open/closed，其他编码为 unknown
func NormalizeDoor(v any) DoorState {
	switch x := v.(type) {
	case bool:
		if x {
			return DoorOpen
		}
		return DoorClosed
	case float64:
		switch x {
		case 1:
			return DoorOpen
		case 0:
			return DoorClosed
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "open", "opened", "true", "1":
			return DoorOpen
		case "closed", "close", "false", "0":
			return DoorClosed
		}
	}
	return DoorUnknown
}
