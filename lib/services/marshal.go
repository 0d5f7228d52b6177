/*
 * ConfPlane
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package services

import (
	"github.com/gravitational/trace"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/utils"
)

// MarshalApplicationService marshals a service to storage form.
func MarshalApplicationService(svc *types.ApplicationService) ([]byte, error) {
	if err := svc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.FastMarshal(svc)
}

// UnmarshalApplicationService unmarshals a service from storage form.
func UnmarshalApplicationService(data []byte, revision string) (*types.ApplicationService, error) {
	var svc types.ApplicationService
	if err := utils.FastUnmarshal(data, &svc); err != nil {
		return nil, trace.Wrap(err, "error unmarshaling application service from storage")
	}
	svc.Revision = revision
	return &svc, nil
}

// MarshalServiceInstance marshals an instance to storage form.
func MarshalServiceInstance(instance *types.ServiceInstance) ([]byte, error) {
	if err := instance.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.FastMarshal(instance)
}

// UnmarshalServiceInstance unmarshals an instance from storage form.
func UnmarshalServiceInstance(data []byte) (*types.ServiceInstance, error) {
	var instance types.ServiceInstance
	if err := utils.FastUnmarshal(data, &instance); err != nil {
		return nil, trace.Wrap(err, "error unmarshaling service instance from storage")
	}
	return &instance, nil
}

// MarshalDriftEvent marshals a drift event to storage form.
func MarshalDriftEvent(event *types.DriftEvent) ([]byte, error) {
	if err := event.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.FastMarshal(event)
}

// UnmarshalDriftEvent unmarshals a drift event from storage form.
func UnmarshalDriftEvent(data []byte) (*types.DriftEvent, error) {
	var event types.DriftEvent
	if err := utils.FastUnmarshal(data, &event); err != nil {
		return nil, trace.Wrap(err, "error unmarshaling drift event from storage")
	}
	return &event, nil
}

// MarshalServiceShare marshals a share to storage form.
func MarshalServiceShare(share *types.ServiceShare) ([]byte, error) {
	if err := share.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.FastMarshal(share)
}

// UnmarshalServiceShare unmarshals a share from storage form.
func UnmarshalServiceShare(data []byte) (*types.ServiceShare, error) {
	var share types.ServiceShare
	if err := utils.FastUnmarshal(data, &share); err != nil {
		return nil, trace.Wrap(err, "error unmarshaling service share from storage")
	}
	return &share, nil
}

// MarshalApprovalRequest marshals an approval request to storage form.
func MarshalApprovalRequest(req *types.ApprovalRequest) ([]byte, error) {
	if err := req.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.FastMarshal(req)
}

// UnmarshalApprovalRequest unmarshals an approval request from storage
// form.
func UnmarshalApprovalRequest(data []byte, revision string) (*types.ApprovalRequest, error) {
	var req types.ApprovalRequest
	if err := utils.FastUnmarshal(data, &req); err != nil {
		return nil, trace.Wrap(err, "error unmarshaling approval request from storage")
	}
	req.Revision = revision
	return &req, nil
}

// MarshalApprovalDecision marshals a decision to storage form.
func MarshalApprovalDecision(decision *types.ApprovalDecision) ([]byte, error) {
	if err := decision.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.FastMarshal(decision)
}

// UnmarshalApprovalDecision unmarshals a decision from storage form.
func UnmarshalApprovalDecision(data []byte) (*types.ApprovalDecision, error) {
	var decision types.ApprovalDecision
	if err := utils.FastUnmarshal(data, &decision); err != nil {
		return nil, trace.Wrap(err, "error unmarshaling approval decision from storage")
	}
	return &decision, nil
}

// MarshalIamUser marshals a user projection to storage form.
func MarshalIamUser(user *types.IamUser) ([]byte, error) {
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.FastMarshal(user)
}

// UnmarshalIamUser unmarshals a user projection from storage form.
func UnmarshalIamUser(data []byte) (*types.IamUser, error) {
	var user types.IamUser
	if err := utils.FastUnmarshal(data, &user); err != nil {
		return nil, trace.Wrap(err, "error unmarshaling user projection from storage")
	}
	return &user, nil
}

// MarshalIamTeam marshals a team projection to storage form.
func MarshalIamTeam(team *types.IamTeam) ([]byte, error) {
	if err := team.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return utils.FastMarshal(team)
}

// UnmarshalIamTeam unmarshals a team projection from storage form.
func UnmarshalIamTeam(data []byte) (*types.IamTeam, error) {
	var team types.IamTeam
	if err := utils.FastUnmarshal(data, &team); err != nil {
		return nil, trace.Wrap(err, "error unmarshaling team projection from storage")
	}
	return &team, nil
}
