// Package procs holds the demo procedures used to exercise the dispatcher,
// reactor, and client end to end in tests — the Go analogue of the
// original framework's Example/Server/Procedures.hpp. These are test
// fixtures, not part of the core RPC surface (spec §1's "demo procedures
// ... treated as external collaborators").
package procs

import (
	"errors"
	"fmt"
	"time"
)

// Add returns the sum of a and b — wire scenario 1 in spec §8.
func Add(a, b int) int {
	return a + b
}

// Hello returns a fixed greeting — wire scenario 2 in spec §8.
func Hello() string {
	return "hello, clnt!\nhahaha"
}

// TwoSum returns the indices of the two numbers in nums that add up to
// target, mirroring the classic LeetCode problem used as scenario 5.
func TwoSum(nums []int, target int) []int {
	seen := make(map[int]int, len(nums))
	for i, n := range nums {
		if j, ok := seen[target-n]; ok {
			return []int{j, i}
		}
		seen[n] = i
	}
	return nil
}

// Excp always returns an error, exercising the dispatcher's UNKNOWN path
// (scenario 4).
func Excp() (int, error) {
	return 0, errors.New("excp: intentional failure for testing")
}

// TestTimeOut sleeps past any reasonable critical-time threshold so the
// dispatcher's slow-handler warning fires (scenario 6), then returns a
// fixed sentinel value.
func TestTimeOut() int {
	time.Sleep(5 * time.Second)
	return 114514
}

// Counter is a stateful receiver registered via Dispatcher.RegisterMethod,
// demonstrating the bound-method registration path (spec §4.3).
type Counter struct {
	n int
}

// Incr adds delta to the counter and returns the new total.
func (c *Counter) Incr(delta int) int {
	c.n += delta
	return c.n
}

// Describe returns a string summary, exercising a zero-argument method.
func (c *Counter) Describe() string {
	return fmt.Sprintf("counter at %d", c.n)
}
