//go:build integration

package integration

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	TestPassword = "TestPassword123"
	TestDevice   = "integration-device"
)

var phoneSeq atomic.Int64

// TestPhone returns a unique E.164 phone number for one test
func TestPhone() string {
	n := phoneSeq.Add(1)
	return fmt.Sprintf("+2010%08d", (time.Now().Unix()%1000)*100000+n)
}
