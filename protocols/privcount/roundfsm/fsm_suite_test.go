package roundfsm_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRoundFSM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Round State Machine Suite")
}
