package gatekeeper

import (
	"fmt"

	"github.com/error2913/QQ-add-group-verification/internal/onebot"
)

func challengeMessage(memberID int64, level int, code string, timeoutSeconds int) string {
	return fmt.Sprintf(
		"%s Welcome! Your QQ level is %d, which is below this group's requirement. "+
			"Send the verification code %s within %d seconds, or you will be removed from the group.",
		onebot.At(memberID), level, code, timeoutSeconds,
	)
}

func passedMessage(memberID int64) string {
	return fmt.Sprintf("%s Verification passed, welcome to the group!", onebot.At(memberID))
}

func timedOutMessage(memberID int64) string {
	return fmt.Sprintf("%d did not verify in time and has been removed from the group.", memberID)
}
