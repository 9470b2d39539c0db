package putils

import (
	"context"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallelCoversAllWork(t *testing.T) {
	const totalSize = 107
	hits := make([]int, totalSize)
	err := GroupWorkParallel(
		context.Background(),
		totalSize,
		4,
		func(numGroups int) {
			test.That(t, numGroups, test.ShouldEqual, 4)
		},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				hits[workNum]++
			}, nil
		},
	)
	test.That(t, err, test.ShouldBeNil)
	for i, h := range hits {
		test.That(t, h, test.ShouldEqual, 1)
		_ = i
	}
}

func TestGroupWorkParallelMoreWorkersThanWork(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	err := GroupWorkParallel(
		context.Background(),
		3,
		16,
		func(numGroups int) {
			test.That(t, numGroups, test.ShouldEqual, 3)
		},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
					mu.Lock()
					seen++
					mu.Unlock()
				}, func() error {
					return nil
				}
		},
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seen, test.ShouldEqual, 3)
}

func TestGroupWorkParallelRejectsBadWorkerCount(t *testing.T) {
	err := GroupWorkParallel(context.Background(), 10, 0, func(int) {},
		func(int, int, int, int) (MemberWorkFunc, GroupWorkDoneFunc) { return nil, nil })
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGroupWorkParallelZeroWork(t *testing.T) {
	called := false
	err := GroupWorkParallel(context.Background(), 0, 2,
		func(numGroups int) {
			called = true
			test.That(t, numGroups, test.ShouldEqual, 0)
		},
		func(int, int, int, int) (MemberWorkFunc, GroupWorkDoneFunc) {
			t.Fatal("no group work expected")
			return nil, nil
		})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, called, test.ShouldBeTrue)
}
