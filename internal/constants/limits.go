package constants

import "time"

const (
	MessageHistoryDefaultLimit = 50
	MessageHistoryMaxLimit     = 100
	MessageMaxLength           = 4000
	ChannelNameMaxLength       = 64

	WSClientSendBufferSize = 256
	WSBroadcastBufferSize  = 1024
	WSMaxMessageSize       = 64 * 1024
	WSWriteWait            = 10 * time.Second
	WSPongWait             = 60 * time.Second
	WSPingPeriod           = (WSPongWait * 9) / 10
)
