package constants

// Order Status
const ORDER_STATUS_PENDING = "pending"
const ORDER_STATUS_COMPLETED = "completed"
const ORDER_STATUS_FAILED = "failed"
const ORDER_STATUS_CANCELLED = "cancelled"

// Transaction Status
const TRANSACTION_STATUS_SUCCESS = "success"
const TRANSACTION_STATUS_FAILED = "failed"

// Purchase Types
const PURCHASE_TYPE_ONE_TIME = "one_time"
const PURCHASE_TYPE_MONTHLY = "monthly"
const PURCHASE_TYPE_PRE_ORDER = "pre_order"

// Order list filters
const ORDER_FILTER_ALL = "all"
const ORDER_FILTER_SUBSCRIPTIONS = "subscriptions"
const ORDER_FILTER_ONETIME = "onetime"

// User Roles
const ROLE_USER = "user"
const ROLE_ADMIN = "admin"

// Email subscriber Status
const EMAIL_STATUS_ACTIVE = "active"
const EMAIL_STATUS_UNSUBSCRIBED = "unsubscribed"

// Processor event types handled by the confirmation path
const EVENT_PAYMENT_PROCESSING = "payment_intent.processing"
const EVENT_PAYMENT_SUCCEEDED = "payment_intent.succeeded"
const EVENT_PAYMENT_FAILED = "payment_intent.payment_failed"
const EVENT_PAYMENT_CANCELED = "payment_intent.canceled"

// Processor metadata keys
const META_USER_ID = "userId"
const META_EMAIL = "email"
const META_ROLE = "role"
const META_PRODUCT_NAME = "productName"
const META_PURCHASE_TYPE = "purchaseType"
const META_TOTAL_LEAKS = "totalLeaks"
const META_TYPE = "type"
const META_SUBSCRIPTION_ID = "subscriptionId"
const META_SUBSCRIPTION_TYPE = "subscriptionType"

const DEFAULT_CURRENCY = "usd"
const DEFAULT_PAGE_SIZE = 10
const MAX_PAGE_SIZE = 100
const PROCESSOR_LIST_LIMIT = 100

// Error responses
const UNAUTHORIZED = "Unauthorized"
const FORBIDDEN = "Forbidden"
const INSUFFICIENT_LEAKS = "Insufficient leaks"
const USER_NOT_FOUND = "user not found"
const ORDER_NOT_FOUND = "order not found"
const ORDER_NUMBER_EXISTS = "order number already exists"
const PAYMENT_ID_EXISTS = "payment id already exists"
const EMAIL_EXISTS = "email already exists"
const EMAIL_NOT_FOUND = "email not found"
const INVALID_EMAIL = "invalid email address"
const DATE_REQUIRED = "date is required"
const INVALID_DATE_FORMAT = "invalid date format"
const NO_PREORDER = "no preorder found"
const CREATE_PAYMENT_FAILED = "create payment failed"
const CREATE_SUBSCRIPTION_FAILED = "create subscription failed"
const INVALID_CREDENTIALS = "invalid email or password"
const NO_SUBSCRIPTIONS = "No subscriptions found"
