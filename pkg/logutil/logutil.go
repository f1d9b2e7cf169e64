package logutil

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
)

const (
	ColorGreen  = "\033[1;32m"
	ColorYellow = "\033[1;33m"
	ColorRed    = "\033[1;31m"
	ColorBlue   = "\033[1;34m"
	ColorReset  = "\033[0m"
)

func Info(msg string) {
	log.Printf("%s%s%s", ColorGreen, msg, ColorReset)
}

func Warn(msg string) {
	log.Printf("%s%s%s", ColorYellow, msg, ColorReset)
}

func Error(msg string) {
	log.Printf("%s%s%s", ColorRed, msg, ColorReset)
}

func Infof(format string, args ...interface{}) {
	log.Printf(ColorGreen+format+ColorReset, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Printf(ColorYellow+format+ColorReset, args...)
}

func Errorf(format string, args ...interface{}) {
	log.Printf(ColorRed+format+ColorReset, args...)
}

func Successf(format string, args ...interface{}) {
	log.Printf(ColorGreen+"✅ "+format+ColorReset, args...)
}

func Fatalf(format string, args ...interface{}) {
	log.Fatalf(ColorRed+format+ColorReset, args...)
}

// ConfirmFunc asks the operator a yes/no question and reports the answer.
type ConfirmFunc func(prompt string) bool

// Confirm reads a y/yes answer from stdin. Anything else counts as no.
func Confirm(prompt string) bool {
	fmt.Printf("%s%s [y/N]: %s", ColorBlue, prompt, ColorReset)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// AutoConfirm answers yes without prompting, for -yes runs.
func AutoConfirm(prompt string) bool {
	Infof("Auto-confirming: %s", prompt)
	return true
}
