// Copyright (C) 2025 Thinline Dynamic Solutions
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>

package main

import (
	"fmt"
	"os"

	"github.com/kardianos/service"
)

// Daemon wraps the system service manager so the server can be
// installed as a background service.
type Daemon struct {
	service service.Service
}

type daemonProgram struct{}

func (p *daemonProgram) Start(s service.Service) error {
	return nil
}

func (p *daemonProgram) Stop(s service.Service) error {
	return nil
}

func NewDaemon() (*Daemon, error) {
	svcConfig := &service.Config{
		Name:        "speech-server",
		DisplayName: "Speech to Text Server",
		Description: "Audio transcription web service",
		Arguments:   []string{},
	}

	svc, err := service.New(&daemonProgram{}, svcConfig)
	if err != nil {
		return nil, err
	}

	return &Daemon{service: svc}, nil
}

// Control runs a service action (install, uninstall, start, stop,
// restart) and exits the process.
func (daemon *Daemon) Control(action string) *Daemon {
	if err := service.Control(daemon.service, action); err != nil {
		fmt.Printf("service %s failed: %s\n", action, err.Error())
		os.Exit(-1)
	}

	fmt.Printf("service %s done\n", action)
	os.Exit(0)

	return daemon
}
