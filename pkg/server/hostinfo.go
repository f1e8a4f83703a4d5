/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package server

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carverauto/registrar/pkg/logger"
)

// hostMetadata describes the machine the registrar runs on. Collection
// failures leave the corresponding keys out.
func hostMetadata(ctx context.Context, log logger.Logger) map[string]interface{} {
	md := map[string]interface{}{
		"go_version": runtime.Version(),
		"arch":       runtime.GOARCH,
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		log.Debug().Err(err).Msg("host.InfoWithContext failed")
	} else {
		md["hostname"] = info.Hostname
		md["os"] = info.OS
		md["platform"] = info.Platform
		md["platform_version"] = info.PlatformVersion
		md["kernel_version"] = info.KernelVersion
		md["boot_time"] = info.BootTime
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err != nil {
		log.Debug().Err(err).Msg("cpu.CountsWithContext failed")
	} else {
		md["cpu_count"] = cores
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		log.Debug().Err(err).Msg("mem.VirtualMemoryWithContext failed")
	} else {
		md["memory_total_bytes"] = vm.Total
	}

	return md
}
