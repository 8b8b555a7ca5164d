// This file maps service operations to backend handlers.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/almsync/internal/rpc"
)

// Service names answered by the backend.
const (
	serviceSession        = "Session"
	serviceProject        = "Project"
	serviceTracker        = "Tracker"
	serviceTestManagement = "TestManagement"
	servicePlanning       = "Planning"
)

// handler is one operation. Handlers marked write run under the exclusive
// lock.
type handler struct {
	write bool
	fn    func(*call) (any, error)
}

// call carries the caller and the raw positional parameters of one request.
type call struct {
	ctx    context.Context
	user   string
	params []json.RawMessage
}

// bind decodes the positional parameters into dst in order. Missing
// parameters decode as JSON null.
func (c *call) bind(dst ...any) error {
	for i, d := range dst {
		raw := json.RawMessage("null")
		if i < len(c.params) {
			raw = c.params[i]
		}
		if err := json.Unmarshal(raw, d); err != nil {
			return fault(rpc.FaultInvalidArguments, "parameter %d: %v", i, err)
		}
	}
	return nil
}

// fault builds a service fault.
func fault(code, format string, args ...any) *rpc.Fault {
	return &rpc.Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(what, id string) *rpc.Fault {
	return fault(rpc.FaultNotFound, "%s %q not found", what, id)
}

func invalid(format string, args ...any) *rpc.Fault {
	return fault(rpc.FaultInvalidArguments, format, args...)
}

func rejected(format string, args ...any) *rpc.Fault {
	return fault(rpc.FaultRejected, format, args...)
}

func (b *Backend) routes() map[string]handler {
	r := func(fn func(*call) (any, error)) handler { return handler{fn: fn} }
	w := func(fn func(*call) (any, error)) handler { return handler{write: true, fn: fn} }

	return map[string]handler{
		"Session.logIn":          w(b.logIn),
		"Session.logInWithToken": w(b.logInWithToken),
		"Session.endSession":     w(b.endSession),
		"Session.hasSubject":     r(b.hasSubject),

		"Project.getProject":                r(b.getProject),
		"Project.getProjectUsers":           r(b.getProjectUsers),
		"Project.getUser":                   r(b.getUser),
		"Project.getUserByUri":              r(b.getUserByURI),
		"Project.getProjectGroupAtLocation": r(b.getProjectGroupAtLocation),
		"Project.getProjectGroup":           r(b.getProjectGroup),
		"Project.getContainedGroups":        r(b.getContainedGroups),
		"Project.getDeepContainedProjects":  r(b.getDeepContainedProjects),

		"Tracker.getWorkItemById":                r(b.getWorkItemByID),
		"Tracker.getWorkItemByUri":               r(b.getWorkItemByURI),
		"Tracker.createWorkItem":                 w(b.createWorkItem),
		"Tracker.updateWorkItem":                 w(b.updateWorkItem),
		"Tracker.deleteWorkItems":                w(b.deleteWorkItems),
		"Tracker.queryWorkItemsLimited":          r(b.queryWorkItemsLimited),
		"Tracker.getAvailableActions":            r(b.getAvailableActions),
		"Tracker.performWorkflowAction":          w(b.performWorkflowAction),
		"Tracker.getAvailableEnumOptionIdsForId": r(b.getAvailableEnumOptionIDsForID),
		"Tracker.getAllEnumOptionsForId":         r(b.getAllEnumOptionsForID),
		"Tracker.getAllEnumOptionsForKey":        r(b.getAllEnumOptionsForKey),
		"Tracker.getCustomFieldKeys":             r(b.getCustomFieldKeys),
		"Tracker.addAssignee":                    w(b.addAssignee),
		"Tracker.removeAssignee":                 w(b.removeAssignee),
		"Tracker.addApprovee":                    w(b.addApprovee),
		"Tracker.removeApprovee":                 w(b.removeApprovee),
		"Tracker.editApproval":                   w(b.editApproval),
		"Tracker.addLinkedItem":                  w(b.addLinkedItem),
		"Tracker.removeLinkedItem":               w(b.removeLinkedItem),
		"Tracker.addHyperlink":                   w(b.addHyperlink),
		"Tracker.removeHyperlink":                w(b.removeHyperlink),
		"Tracker.createAttachment":               w(b.createAttachment),
		"Tracker.getAttachment":                  r(b.getAttachment),
		"Tracker.deleteAttachment":               w(b.deleteAttachment),
		"Tracker.addComment":                     w(b.addComment),
		"Tracker.setResolvedComment":             w(b.setResolvedComment),
		"Tracker.setCommentTags":                 w(b.setCommentTags),

		"Tracker.getModuleByUri":                   r(b.getModuleByURI),
		"Tracker.getModuleByLocation":              r(b.getModuleByLocation),
		"Tracker.createDocument":                   w(b.createDocument),
		"Tracker.updateModule":                     w(b.updateModule),
		"Tracker.deleteModule":                     w(b.deleteModule),
		"Tracker.getModuleWorkItemUris":            r(b.getModuleWorkItemURIs),
		"Tracker.createWorkItemInModule":           w(b.createWorkItemInModule),
		"Tracker.moveWorkItemToDocument":           w(b.moveWorkItemToDocument),
		"Tracker.getDocumentSpaces":                r(b.getDocumentSpaces),
		"Tracker.getDocumentLocations":             r(b.getDocumentLocations),
		"Tracker.getModuleUris":                    r(b.getModuleURIs),
		"Tracker.reuseDocument":                    w(b.reuseDocument),
		"Tracker.updateDerivedDocument":            w(b.updateDerivedDocument),
		"Tracker.createDocumentComment":            w(b.createDocumentComment),
		"Tracker.createDocumentCommentReferringWI": w(b.createDocumentCommentReferringWI),
		"Tracker.createDocumentCommentReply":       w(b.createDocumentCommentReply),

		"TestManagement.getTestRunById":             r(b.getTestRunByID),
		"TestManagement.getTestRunByUri":            r(b.getTestRunByURI),
		"TestManagement.createTestRunWithTitle":     w(b.createTestRunWithTitle),
		"TestManagement.updateTestRun":              w(b.updateTestRun),
		"TestManagement.deleteTestRuns":             w(b.deleteTestRuns),
		"TestManagement.searchTestRunsLimited":      r(b.searchTestRunsLimited),
		"TestManagement.executeTest":                w(b.executeTest),
		"TestManagement.addTestRecord":              w(b.addTestRecord),
		"TestManagement.updateTestRecordAtIndex":    w(b.updateTestRecordAtIndex),
		"TestManagement.getTestSteps":               r(b.getTestSteps),
		"TestManagement.setTestSteps":               w(b.setTestSteps),
		"TestManagement.addAttachmentToTestRun":     w(b.addAttachmentToTestRun),
		"TestManagement.getTestRunAttachment":       r(b.getTestRunAttachment),
		"TestManagement.deleteTestRunAttachment":    w(b.deleteTestRunAttachment),
		"TestManagement.addAttachmentToTestRecord":  w(b.addAttachmentToTestRecord),
		"TestManagement.deleteTestRecordAttachment": w(b.deleteTestRecordAttachment),
		"TestManagement.addAttachmentToTestStep":    w(b.addAttachmentToTestStep),
		"TestManagement.deleteTestStepAttachment":   w(b.deleteTestStepAttachment),

		"Planning.getPlanById":           r(b.getPlanByID),
		"Planning.getPlanByUri":          r(b.getPlanByURI),
		"Planning.createPlan":            w(b.createPlan),
		"Planning.updatePlan":            w(b.updatePlan),
		"Planning.deletePlans":           w(b.deletePlans),
		"Planning.addPlanItems":          w(b.addPlanItems),
		"Planning.removePlanItems":       w(b.removePlanItems),
		"Planning.addPlanAllowedType":    w(b.addPlanAllowedType),
		"Planning.removePlanAllowedType": w(b.removePlanAllowedType),
		"Planning.searchPlans":           r(b.searchPlans),
	}
}
