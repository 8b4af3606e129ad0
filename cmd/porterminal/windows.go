//go:build windows

package main

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// notifyWinch is a no-op here: Windows has no resize signal, so an attached
// terminal keeps the geometry it had when it connected.
func notifyWinch(ch chan<- os.Signal) {}

// processAlive leans on FindProcess, which opens a handle and so only
// succeeds for live processes here.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func terminateProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
