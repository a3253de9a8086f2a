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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env file is fine, the ini file and flags cover
	// everything it can set.
	godotenv.Load()

	config := NewConfig()
	controller := NewController(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		controller.Logs.LogEvent(LogLevelError, err.Error())
		os.Exit(-1)
	}

	controller.Logs.LogEvent(LogLevelInfo, fmt.Sprintf("Speech to Text Server v%s", Version))

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		<-interrupt

		controller.Stop()
		os.Exit(0)
	}()

	if err := controller.Serve(); err != nil {
		controller.Logs.LogEvent(LogLevelError, err.Error())
		controller.Stop()
		os.Exit(-1)
	}
}
