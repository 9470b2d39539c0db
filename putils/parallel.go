// Package putils has small process-level helpers shared by the estimators.
package putils

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated group count.
	BeforeParallelGroupWorkFunc func(numGroups int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func() error
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel parallelizes the given size of work over numWorkers
// workers. Each worker owns a contiguous slice of the work, so thread-local
// state built inside a group never races; merge it in the group's done func,
// which runs concurrently with other groups' done funcs only over disjoint
// state, or guard shared state there yourself.
func GroupWorkParallel(
	ctx context.Context,
	totalSize, numWorkers int,
	before BeforeParallelGroupWorkFunc,
	groupWork GroupWorkFunc,
) error {
	if numWorkers <= 0 {
		return errors.Errorf("numWorkers must be positive, got %d", numWorkers)
	}
	numGroups := numWorkers
	if totalSize < numGroups {
		numGroups = totalSize
	}
	if numGroups == 0 {
		before(0)
		return nil
	}
	extra := 0
	if totalSize > numGroups {
		extra = totalSize % numGroups
	}
	groupSize := int(math.Floor(float64(totalSize) / float64(numGroups)))

	before(numGroups)

	var (
		mu       sync.Mutex
		mergeErr error
		wait     sync.WaitGroup
	)
	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		groupNumCopy := groupNum
		goutils.PanicCapturingGo(func() {
			defer wait.Done()
			groupNum := groupNumCopy

			thisGroupSize := groupSize
			thisExtra := 0
			if groupNum == (numGroups - 1) {
				thisExtra = extra
				thisGroupSize += thisExtra
			}
			from := groupSize * groupNum
			to := (groupSize * (groupNum + 1)) + thisExtra
			memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork != nil {
				memberNum := 0
				for workNum := from; workNum < to; workNum++ {
					memberWork(memberNum, workNum)
					memberNum++
				}
			}
			if groupWorkDone != nil {
				if err := groupWorkDone(); err != nil {
					mu.Lock()
					mergeErr = multierr.Combine(mergeErr, err)
					mu.Unlock()
				}
			}
		})
	}
	wait.Wait()
	return multierr.Combine(ctx.Err(), mergeErr)
}
