package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// 起始时间 2024-01-01 00:00:00 UTC，10 位节点号，12 位序列号
const epochMillis = int64(1704067200000)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// Init 初始化本进程的节点号，多实例部署时必须各不相同
func Init(workerID int64) error {
	nodeOnce.Do(func() {
		snowflake.Epoch = epochMillis
		node, nodeErr = snowflake.NewNode(workerID)
	})
	return nodeErr
}

// NextID 生成下一个ID，未初始化时使用节点 1
func NextID() snowflake.ID {
	if err := Init(1); err != nil {
		panic(fmt.Sprintf("idgen: %v", err))
	}
	return node.Generate()
}

// GenerateMovementNo 流水号，例如 MOV1734200000000000001
func GenerateMovementNo() string {
	return "MOV" + NextID().String()
}

// GenerateEventKey outbox 消息键
func GenerateEventKey() string {
	return "EVT" + NextID().String()
}

// GenerateCardKey 16 位随机数字，格式 NNNN-NNNN-NNNN-NNNN，唯一性由调用方校验
func GenerateCardKey() (string, error) {
	limit := big.NewInt(10000)
	parts := make([]interface{}, 4)
	for i := range parts {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		parts[i] = n.Int64()
	}
	return fmt.Sprintf("%04d-%04d-%04d-%04d", parts...), nil
}
